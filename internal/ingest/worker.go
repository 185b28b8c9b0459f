package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/storage"
)

// DocumentStore lists stored documents and loads their text.
type DocumentStore interface {
	ListDocuments() ([]storage.Document, error)
	GetDocument(id int64) (storage.Document, error)
}

// Preparer builds the answer index of a document.
type Preparer interface {
	Prepare(docID, text string) error
}

// Stats summarizes one warm-up pass.
type Stats struct {
	Prepared int
	Skipped  int // documents without extractable text
	Failed   int
}

// Worker prepares answer indexes for documents that are already stored, so
// that questions about them after a restart are answered without a cold
// index build.
type Worker struct {
	store    DocumentStore
	preparer Preparer
	limit    int
	logger   *slog.Logger
}

// NewWorker creates a Worker. If limit is <= 0, it defaults to 4 concurrent
// index builds.
func NewWorker(store DocumentStore, preparer Preparer, limit int) *Worker {
	if limit <= 0 {
		limit = 4
	}
	return &Worker{
		store:    store,
		preparer: preparer,
		limit:    limit,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the worker's logger.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	w.logger = l
	return w
}

// Run prepares every stored document once. A document that fails is logged
// and counted; only listing failures and cancellation are returned.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	docs, err := w.store.ListDocuments()
	if err != nil {
		return Stats{}, fmt.Errorf("listing documents: %w", err)
	}

	var prepared, skipped, failed atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)

	for _, d := range docs {
		id := d.ID
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			switch err := w.prepare(id); {
			case err == nil:
				prepared.Add(1)
			case errors.Is(err, answer.ErrNoText):
				skipped.Add(1)
			default:
				failed.Add(1)
				w.logger.Warn("preparing document index failed", "document_id", id, "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	stats := Stats{
		Prepared: int(prepared.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
	if err != nil {
		return stats, err
	}
	w.logger.Info("document indexes prepared", "prepared", stats.Prepared, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

func (w *Worker) prepare(id int64) error {
	doc, err := w.store.GetDocument(id)
	if err != nil {
		return fmt.Errorf("loading document %d: %w", id, err)
	}
	return w.preparer.Prepare(strconv.FormatInt(id, 10), doc.TextContent)
}
