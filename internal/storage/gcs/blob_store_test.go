package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestObjectNameAppliesPrefix(t *testing.T) {
	t.Parallel()

	s := &BlobStore{bucket: "b", prefix: "harvests/run-1"}
	assert.Equal(t, "harvests/run-1/raw_data/provider_7.json", s.ObjectName("raw_data/provider_7.json"))
	s.prefix = ""
	assert.Equal(t, "raw_data/provider_7.json", s.ObjectName("/raw_data/provider_7.json"))
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	const object = "mirror/raw_data/provider_42.json"
	payload := []byte(`{"id": 42}`)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/artifacts/o")
		assert.Equal(t, object, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket": "artifacts", "name": %q}`, object)
	})

	store := newTestStore(t, handler, Config{Bucket: "artifacts", Prefix: "/mirror/"})
	uri, err := store.PutObject(context.Background(), "raw_data/provider_42.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://artifacts/"+object, uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "artifacts"})

	_, err := store.PutObject(context.Background(), "raw_data/provider_1.json", "application/json", bytes.NewReader([]byte("{}")))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	assert.Error(t, err)
}
