package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}

// fakeS3 answers PutObject and ListObjectsV2 for a path-style bucket.
type fakeS3 struct {
	mu   sync.Mutex
	puts map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.puts[r.URL.Path] = string(b)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>usage</Name><Prefix>exports/</Prefix><KeyCount>1</KeyCount><IsTruncated>false</IsTruncated>
  <Contents><Key>exports/usage-1.jsonl</Key><Size>12</Size><LastModified>2026-01-02T03:04:05.000Z</LastModified></Contents>
</ListBucketResult>`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{puts: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "usage",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	return c, fake
}

func TestWriter_Put(t *testing.T) {
	c, fake := newFakeClient(t)
	err := NewWriter(c).Put(context.Background(), "exports/a.jsonl", strings.NewReader(`{"id":"1"}`+"\n"), "application/x-ndjson")
	require.NoError(t, err)
	require.Contains(t, fake.puts, "/usage/exports/a.jsonl")
	assert.Contains(t, fake.puts["/usage/exports/a.jsonl"], `{"id":"1"}`)
}

func TestLister_List(t *testing.T) {
	c, _ := newFakeClient(t)
	infos, err := NewLister(c).List(context.Background(), "exports/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "exports/usage-1.jsonl", infos[0].Path)
	assert.Equal(t, int64(12), infos[0].Size)
}
