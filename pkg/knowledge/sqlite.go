package knowledge

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	_ "modernc.org/sqlite"
)

// SQLite persists documents in a local database file and scans them in rowid
// order on query, so ties keep insertion order across restarts.
type SQLite struct {
	db *sql.DB
	// writes are serialized here; sqlite would otherwise report SQLITE_BUSY
	mu sync.Mutex
}

// NewSQLite opens or creates the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("dir", dir))
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		text       TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		dims       INTEGER NOT NULL,
		tags       TEXT,
		created_at TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return goerr.Wrap(err, "failed to migrate schema")
	}
	return nil
}

func (s *SQLite) Insert(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dims, err := s.dims(ctx)
	if err != nil {
		return err
	}

	stored, err := prepareInsert(doc, dims)
	if err != nil {
		return err
	}

	tags, err := json.Marshal(stored.Tags)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal tags")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, text, embedding, dims, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(stored.ID), stored.Text, encodeVector(stored.Embedding), len(stored.Embedding), string(tags),
		stored.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return goerr.New("document already exists", goerr.V("id", stored.ID))
		}
		return goerr.Wrap(err, "failed to insert document", goerr.V("id", stored.ID))
	}
	doc.ID, doc.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

func (s *SQLite) dims(ctx context.Context) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dims FROM documents ORDER BY seq LIMIT 1`).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read dimension")
	}
	return dims, nil
}

func (s *SQLite) Delete(ctx context.Context, id model.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, string(id))
	if err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(model.ErrDocumentNotFound, "failed to delete document", goerr.V("id", id))
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, embedding, tags, created_at FROM documents ORDER BY seq`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan documents")
	}
	defer rows.Close()

	var q []float32
	hits := []Hit{}
	for rows.Next() {
		var (
			id, text, created string
			blob              []byte
			tags              sql.NullString
		)
		if err := rows.Scan(&id, &text, &blob, &tags, &created); err != nil {
			return nil, goerr.Wrap(err, "failed to scan document")
		}

		emb, err := decodeVector(blob)
		if err != nil {
			return nil, goerr.Wrap(err, "corrupted embedding", goerr.V("id", id))
		}

		if q == nil {
			if len(vec) != len(emb) {
				return nil, goerr.Wrap(model.ErrDimensionMismatch, "query has wrong dimension",
					goerr.V("expected", len(emb)),
					goerr.V("actual", len(vec)))
			}
			if q = Normalize(vec); q == nil {
				return []Hit{}, nil
			}
		}

		doc := model.Document{ID: model.DocumentID(id), Text: text, Embedding: emb}
		if tags.Valid && tags.String != "" && tags.String != "null" {
			if err := json.Unmarshal([]byte(tags.String), &doc.Tags); err != nil {
				return nil, goerr.Wrap(err, "corrupted tags", goerr.V("id", id))
			}
		}
		if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, goerr.Wrap(err, "corrupted timestamp", goerr.V("id", id))
		}

		hits = append(hits, Hit{Document: doc, Score: dot(q, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate documents")
	}

	return rank(hits, k), nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count documents")
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func encodeVector(vec []float32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, goerr.New("blob length is not a multiple of 4", goerr.V("length", len(blob)))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode vector")
	}
	return vec, nil
}
