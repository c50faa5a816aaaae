package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/adapter"
)

func TestStoragePutGet(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	st, err := adapter.NewStorage(ctx, bucket, "socratic-test/")
	gt.NoError(t, err)

	key := uuid.New().String() + ".json"
	w, err := st.Put(ctx, key)
	gt.NoError(t, err)
	_, err = w.Write([]byte(`{"ok":true}`))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := st.Get(ctx, key)
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, string(data), `{"ok":true}`)

	_, err = st.Get(ctx, "missing-"+key)
	gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
}
