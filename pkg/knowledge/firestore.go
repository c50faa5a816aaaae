package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxFirestoreNeighbors is the FindNearest limit imposed by Firestore.
const maxFirestoreNeighbors = 1000

// Firestore stores documents in a collection with a vector index on the
// embedding field. Queries use native cosine nearest-neighbor search.
//
// Inserts run in a transaction that bumps a counter document kept in a
// sibling "<collection>_state" collection, so seq is a stable insertion order
// and the dimension check holds across processes sharing the collection.
type Firestore struct {
	mu         sync.Mutex
	client     *firestore.Client
	collection string
}

type firestoreCounter struct {
	Seq int64 `firestore:"seq"`
}

type firestoreDoc struct {
	ID        string             `firestore:"id"`
	Text      string             `firestore:"text"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Tags      []string           `firestore:"tags"`
	CreatedAt time.Time          `firestore:"created_at"`
	// Seq orders documents for tie breaking.
	Seq int64 `firestore:"seq"`
}

// NewFirestore connects to databaseID in projectID.
func NewFirestore(ctx context.Context, projectID, databaseID, collection string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project is required")
	}
	if collection == "" {
		collection = "documents"
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	return &Firestore{client: client, collection: collection}, nil
}

func (f *Firestore) counterRef() *firestore.DocumentRef {
	return f.client.Collection(f.collection + "_state").Doc("sequence")
}

// dims reads the embedding length of the oldest document, or 0 when the
// collection is empty.
func (f *Firestore) dims(tx *firestore.Transaction) (int, error) {
	iter := tx.Documents(f.client.Collection(f.collection).OrderBy("seq", firestore.Asc).Limit(1))
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read first document")
	}

	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
	}
	return len(doc.Embedding), nil
}

func (f *Firestore) nextSeq(tx *firestore.Transaction) (int64, error) {
	snap, err := tx.Get(f.counterRef())
	if status.Code(err) == codes.NotFound {
		return 1, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read sequence counter")
	}

	var counter firestoreCounter
	if err := snap.DataTo(&counter); err != nil {
		return 0, goerr.Wrap(err, "failed to decode sequence counter")
	}
	return counter.Seq + 1, nil
}

func (f *Firestore) Insert(ctx context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var stored model.Document
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		seq, err := f.nextSeq(tx)
		if err != nil {
			return err
		}
		dims, err := f.dims(tx)
		if err != nil {
			return err
		}

		stored, err = prepareInsert(doc, dims)
		if err != nil {
			return err
		}

		data := firestoreDoc{
			ID:        string(stored.ID),
			Text:      stored.Text,
			Embedding: firestore.Vector32(stored.Embedding),
			Tags:      stored.Tags,
			CreatedAt: stored.CreatedAt,
			Seq:       seq,
		}
		if err := tx.Create(f.client.Collection(f.collection).Doc(string(stored.ID)), data); err != nil {
			return err
		}
		return tx.Set(f.counterRef(), firestoreCounter{Seq: seq})
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.New("document already exists", goerr.V("id", stored.ID))
		}
		return goerr.Wrap(err, "failed to create document", goerr.V("id", stored.ID))
	}

	doc.ID, doc.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

func (f *Firestore) Delete(ctx context.Context, id model.DocumentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := f.client.Collection(f.collection).Doc(string(id))
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrDocumentNotFound, "failed to delete document", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to get document", goerr.V("id", id))
	}

	if _, err := ref.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("id", id))
	}
	return nil
}

func (f *Firestore) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	q := Normalize(vec)
	if q == nil {
		return []Hit{}, nil
	}

	limit := min(k, maxFirestoreNeighbors)
	vq := f.client.Collection(f.collection).FindNearest("embedding",
		firestore.Vector32(q),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: "distance"})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	type ranked struct {
		hit Hit
		seq int64
	}
	var results []ranked
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run vector query")
		}

		var doc firestoreDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
		}
		if len(doc.Embedding) != len(q) {
			return nil, goerr.Wrap(model.ErrDimensionMismatch, "query has wrong dimension",
				goerr.V("expected", len(doc.Embedding)),
				goerr.V("actual", len(q)))
		}

		distance, _ := snap.Data()["distance"].(float64)
		results = append(results, ranked{
			hit: Hit{
				Document: model.Document{
					ID:        model.DocumentID(doc.ID),
					Text:      doc.Text,
					Embedding: []float32(doc.Embedding),
					Tags:      doc.Tags,
					CreatedAt: doc.CreatedAt,
				},
				Score: 1 - distance,
			},
			seq: doc.Seq,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].seq < results[j].seq })
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, r.hit)
	}
	return rank(hits, k), nil
}

func (f *Firestore) Count(ctx context.Context) (int, error) {
	iter := f.client.Collection(f.collection).Select().Documents(ctx)
	defer iter.Stop()

	n := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			return n, nil
		}
		if err != nil {
			return 0, goerr.Wrap(err, "failed to count documents")
		}
		n++
	}
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
