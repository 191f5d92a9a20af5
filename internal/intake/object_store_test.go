package intake

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lingosum/intake/internal/model"
)

// fakeBucket serves the subset of the S3 API the object store uses, with
// path-style addressing.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := b.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Write(body)
	case http.MethodDelete:
		delete(b.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestObjectStore(t *testing.T) (*ObjectStore, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: make(map[string][]byte)}
	server := httptest.NewServer(bucket)
	t.Cleanup(server.Close)

	store, err := NewObjectStore(context.Background(), ObjectStoreOptions{
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		BucketName:      "intake-test",
		Endpoint:        server.URL,
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	return store, bucket
}

func TestObjectStore_RoundTrip(t *testing.T) {
	store, bucket := newTestObjectStore(t)
	ctx := context.Background()
	handle := model.Handle("h-1")

	if err := store.Put(ctx, handle, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := bucket.objects["/intake-test/intake/payloads/h-1"]; !ok {
		t.Fatalf("object not stored under the payload prefix: %v", bucket.objects)
	}

	got, err := store.Get(ctx, handle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("expected payload, got %q", got)
	}

	if err := store.Delete(ctx, handle); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, handle); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestObjectStore_MissingKey(t *testing.T) {
	store, _ := newTestObjectStore(t)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewObjectStore_IncompleteConfig(t *testing.T) {
	_, err := NewObjectStore(context.Background(), ObjectStoreOptions{BucketName: "b"})
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
