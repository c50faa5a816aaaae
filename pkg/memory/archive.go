package memory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/adapter"
	"github.com/m-mizutani/socratic/pkg/model"
)

// StorageArchiver stores sessions as JSON objects named sessions/<id>.json.
type StorageArchiver struct {
	storage adapter.Storage
}

func NewStorageArchiver(storage adapter.Storage) *StorageArchiver {
	return &StorageArchiver{storage: storage}
}

func sessionKey(sid model.SessionID) string {
	return "sessions/" + string(sid) + ".json"
}

func (a *StorageArchiver) Archive(ctx context.Context, sc *model.SessionContext) error {
	w, err := a.storage.Put(ctx, sessionKey(sc.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to open session object", goerr.V("session_id", sc.ID))
	}

	if err := json.NewEncoder(w).Encode(sc); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to encode session", goerr.V("session_id", sc.ID))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit session object", goerr.V("session_id", sc.ID))
	}
	return nil
}

// Restore reads an archived session. A missing object yields
// model.ErrSessionNotFound.
func (a *StorageArchiver) Restore(ctx context.Context, sid model.SessionID) (*model.SessionContext, error) {
	r, err := a.storage.Get(ctx, sessionKey(sid))
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, goerr.Wrap(model.ErrSessionNotFound, "session is not archived", goerr.V("session_id", sid))
		}
		return nil, goerr.Wrap(err, "failed to read session object", goerr.V("session_id", sid))
	}
	defer r.Close()

	var sc model.SessionContext
	if err := json.NewDecoder(r).Decode(&sc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("session_id", sid))
	}
	if sc.ID != sid {
		return nil, goerr.New("archived session id does not match",
			goerr.V("expected", sid),
			goerr.V("actual", sc.ID))
	}
	return &sc, nil
}
