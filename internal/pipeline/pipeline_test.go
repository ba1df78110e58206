package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type ledger []domain.DataUsageLog

func (l ledger) ListSince(_ context.Context, since time.Time, limit int) ([]domain.DataUsageLog, error) {
	var out []domain.DataUsageLog
	for _, e := range l {
		if e.Timestamp.After(since) {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = b
	return nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) lines(t *testing.T) []domain.DataUsageLog {
	t.Helper()
	infos, err := m.List(context.Background(), "")
	require.NoError(t, err)
	var out []domain.DataUsageLog
	for _, info := range infos {
		sc := bufio.NewScanner(bytes.NewReader(m.objects[info.Path]))
		for sc.Scan() {
			var e domain.DataUsageLog
			require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
			out = append(out, e)
		}
	}
	return out
}

func entryAt(id string, ts time.Time) domain.DataUsageLog {
	return domain.DataUsageLog{ID: id, AgentID: "a", Endpoint: "/p", AmountPaid: decimal.NewFromInt(1000), Timestamp: ts, Success: true}
}

var base = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestExporter_ExportsNewEntriesOnce(t *testing.T) {
	src := ledger{entryAt("1", base), entryAt("2", base.Add(time.Second))}
	blobs := newMemBlobs()
	e := NewExporter(src, blobs, blobs, "/usage/", testLogger)

	n, err := e.ExportOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	key := exportKey("usage", base.Add(time.Second))
	assert.Contains(t, blobs.objects, key)
	assert.Equal(t, "usage/2026/03/04/usage-"+strconv.FormatInt(base.Add(time.Second).UnixNano(), 10)+".jsonl", key)

	n, err = e.ExportOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new")
}

func TestExporter_BatchesKeepSameTimestampTogether(t *testing.T) {
	src := ledger{
		entryAt("1", base),
		entryAt("2", base.Add(time.Second)),
		entryAt("3", base.Add(time.Second)),
		entryAt("4", base.Add(2*time.Second)),
	}
	blobs := newMemBlobs()
	e := NewExporter(src, blobs, blobs, "usage", testLogger)
	e.batch = 2

	n, err := e.ExportOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var ids []string
	for _, l := range blobs.lines(t) {
		ids = append(ids, l.ID)
	}
	assert.ElementsMatch(t, []string{"1", "2", "3", "4"}, ids)
}

func TestExporter_ResumeFromExistingObjects(t *testing.T) {
	src := ledger{entryAt("1", base), entryAt("2", base.Add(time.Minute))}
	blobs := newMemBlobs()
	blobs.objects[exportKey("usage", base)] = []byte("{}\n")
	blobs.objects["usage/README"] = []byte("x")

	e := NewExporter(src, blobs, blobs, "usage", testLogger)
	require.NoError(t, e.Resume(context.Background()))
	assert.True(t, e.cursor.Equal(base))

	n, err := e.ExportOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type failingWriter struct{}

func (failingWriter) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket gone")
}

func TestExporter_UploadFailureKeepsCursor(t *testing.T) {
	e := NewExporter(ledger{entryAt("1", base)}, failingWriter{}, nil, "usage", testLogger)
	_, err := e.ExportOnce(context.Background())
	require.Error(t, err)
	assert.True(t, e.cursor.IsZero())
}

func TestExportCursor(t *testing.T) {
	ts, ok := exportCursor("usage/2026/03/04/usage-1772600767000000000.jsonl")
	require.True(t, ok)
	assert.Equal(t, int64(1772600767000000000), ts.UnixNano())

	for _, bad := range []string{"usage/x.jsonl", "usage/usage-abc.jsonl", "usage/usage-1.json"} {
		_, ok := exportCursor(bad)
		assert.False(t, ok, bad)
	}
}

func TestOrchestrator_CleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(testLogger)
	o.Add("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	o.Add("oneshot", func(context.Context) error { return nil })
	assert.Equal(t, 2, o.Len())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}

func TestOrchestrator_FailureCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	o := NewOrchestrator(testLogger,
		Job{Name: "blocker", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		Job{Name: "broken", Run: func(context.Context) error { return boom }},
	)
	err := o.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
}
