// Package pipeline runs the process's background jobs: the usage-ledger
// export and store maintenance.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// UsageSource is the read side of the usage ledger.
type UsageSource interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]domain.DataUsageLog, error)
}

// DefaultExportBatch bounds the entries written to one object.
const DefaultExportBatch = 5000

// Exporter copies new usage-ledger entries into object storage as JSONL.
// Object keys end in the UnixNano timestamp of their last entry, which is
// where the next export resumes.
type Exporter struct {
	source UsageSource
	writer domain.BlobWriter
	lister domain.BlobLister
	prefix string
	batch  int
	logger *slog.Logger

	cursor time.Time
}

// NewExporter creates an Exporter writing under prefix. lister may be nil, in
// which case every export starts from the beginning of the ledger.
func NewExporter(source UsageSource, writer domain.BlobWriter, lister domain.BlobLister, prefix string, logger *slog.Logger) *Exporter {
	return &Exporter{
		source: source,
		writer: writer,
		lister: lister,
		prefix: strings.Trim(prefix, "/"),
		batch:  DefaultExportBatch,
		logger: logger.With(slog.String("component", "usage_exporter")),
	}
}

// Resume sets the cursor from the newest object already exported.
func (e *Exporter) Resume(ctx context.Context) error {
	if e.lister == nil {
		return nil
	}
	infos, err := e.lister.List(ctx, e.prefix+"/")
	if err != nil {
		return fmt.Errorf("pipeline: list exports: %w", err)
	}
	for _, info := range infos {
		if ts, ok := exportCursor(info.Path); ok && ts.After(e.cursor) {
			e.cursor = ts
		}
	}
	if !e.cursor.IsZero() {
		e.logger.InfoContext(ctx, "export resumed", slog.Time("cursor", e.cursor))
	}
	return nil
}

// ExportOnce writes every entry newer than the cursor, one object per batch,
// and returns how many were exported.
func (e *Exporter) ExportOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		entries, err := e.source.ListSince(ctx, e.cursor, e.batch)
		if err != nil {
			return total, fmt.Errorf("pipeline: read usage since %s: %w", e.cursor.Format(time.RFC3339Nano), err)
		}
		full := len(entries) == e.batch
		if full {
			entries = trimSharedTail(entries)
		}
		if len(entries) == 0 {
			return total, nil
		}

		last := entries[len(entries)-1].Timestamp
		key := exportKey(e.prefix, last)
		body, err := marshalJSONL(entries)
		if err != nil {
			return total, err
		}
		if err := e.writer.Put(ctx, key, bytes.NewReader(body), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("pipeline: upload %s: %w", key, err)
		}

		e.cursor = last
		total += len(entries)
		e.logger.InfoContext(ctx, "usage exported",
			slog.String("key", key),
			slog.Int("entries", len(entries)),
		)
		if !full {
			return total, nil
		}
	}
}

// Run exports every interval until ctx is done. Failed exports are logged and
// retried on the next tick.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) error {
	if err := e.Resume(ctx); err != nil {
		e.logger.WarnContext(ctx, "resume failed, exporting from the start",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if _, err := e.ExportOnce(context.WithoutCancel(ctx)); err != nil {
				e.logger.Error("final export failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.ExportOnce(ctx); err != nil {
				e.logger.ErrorContext(ctx, "export failed", slog.String("error", err.Error()))
			}
		}
	}
}

// trimSharedTail drops trailing entries that share the final timestamp so the
// strict "after cursor" read cannot skip their siblings. A batch made of a
// single timestamp is kept whole.
func trimSharedTail(entries []domain.DataUsageLog) []domain.DataUsageLog {
	last := entries[len(entries)-1].Timestamp
	i := len(entries)
	for i > 0 && entries[i-1].Timestamp.Equal(last) {
		i--
	}
	if i == 0 {
		return entries
	}
	return entries[:i]
}

func exportKey(prefix string, last time.Time) string {
	last = last.UTC()
	return path.Join(prefix, last.Format("2006/01/02"), "usage-"+strconv.FormatInt(last.UnixNano(), 10)+".jsonl")
}

func exportCursor(key string) (time.Time, bool) {
	base := path.Base(key)
	raw, ok := strings.CutPrefix(base, "usage-")
	if !ok {
		return time.Time{}, false
	}
	raw, ok = strings.CutSuffix(raw, ".jsonl")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("pipeline: encode jsonl: %w", err)
		}
	}
	return buf.Bytes(), nil
}
