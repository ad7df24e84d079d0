package storage_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sendrec/danmaku/internal/storage"
)

// fakeS3 understands the handful of path-style requests Storage makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			f.buckets[bucket] = true
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	path := bucket + "/" + key
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = body
	case http.MethodGet:
		body, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T) (*storage.Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := storage.New(context.Background(), storage.Config{
		Endpoint:  srv.URL,
		Bucket:    "danmaku",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return store, fake
}

func TestEnsureBucketCreatesMissingBucket(t *testing.T) {
	store, fake := newTestStorage(t)

	if err := store.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if !fake.buckets["danmaku"] {
		t.Fatal("expected bucket to be created")
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket on an existing bucket: %v", err)
	}
}

func TestPutAndGetJSON(t *testing.T) {
	store, fake := newTestStorage(t)
	ctx := context.Background()

	type page struct {
		Comments []string `json:"comments"`
	}
	if err := store.PutJSON(ctx, "danmaku/v1/pages/0.json", page{Comments: []string{"a", "b"}}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if got := string(fake.objects["danmaku/danmaku/v1/pages/0.json"]); got != `{"comments":["a","b"]}` {
		t.Errorf("unexpected stored body %s", got)
	}

	var got page
	if err := store.GetJSON(ctx, "danmaku/v1/pages/0.json", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(got.Comments) != 2 || got.Comments[1] != "b" {
		t.Errorf("unexpected page %+v", got)
	}

	if err := store.DeleteObject(ctx, "danmaku/v1/pages/0.json"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := store.GetJSON(ctx, "danmaku/v1/pages/0.json", &got); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetJSONMissingObject(t *testing.T) {
	store, _ := newTestStorage(t)

	var v map[string]any
	err := store.GetJSON(context.Background(), "danmaku/missing/manifest.json", &v)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateDownloadURLUsesPublicEndpoint(t *testing.T) {
	store, err := storage.New(context.Background(), storage.Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://cdn.example.com",
		Bucket:         "danmaku",
		AccessKey:      "test",
		SecretKey:      "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	url, err := store.GenerateDownloadURL(context.Background(), "danmaku/v1/manifest.json", time.Hour)
	if err != nil {
		t.Fatalf("GenerateDownloadURL: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/danmaku/danmaku/v1/manifest.json?") {
		t.Errorf("unexpected presigned URL %s", url)
	}
	if !strings.Contains(url, "X-Amz-Signature=") {
		t.Errorf("expected a signed URL, got %s", url)
	}
}
