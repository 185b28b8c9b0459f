package workspace

import (
	"context"

	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/transcript"
)

// LoadDocuments replaces the registry with the backend's document listing.
// Documents added or removed locally while the listing was in flight keep
// their local state. Concurrent calls share one request.
func (w *Workspace) LoadDocuments(ctx context.Context) error {
	_, err, _ := w.lists.Do("documents", func() (any, error) {
		w.mu.Lock()
		issued := w.gen
		w.mu.Unlock()

		infos, err := w.gw.ListDocuments(ctx)
		if err != nil {
			return nil, err
		}
		w.applyListing(infos, issued)
		return nil, nil
	})
	if err != nil {
		w.logger.Warn("loading documents failed", "error", err)
		return failure(err, gateway.FallbackListDocuments)
	}
	return nil
}

func (w *Workspace) applyListing(infos []gateway.DocumentInfo, issued uint64) {
	w.mutate(func() bool {
		docs := make([]registry.Document, 0, len(infos))
		listed := make(map[string]bool, len(infos))
		for _, in := range infos {
			id := in.ID.String()
			if id == "" || w.removedGen[id] > issued {
				continue
			}
			doc := registry.Document{
				ID:         id,
				Filename:   in.Filename,
				PageCount:  in.PageCount,
				FileSize:   in.FileSize,
				UploadDate: in.UploadDate.Time,
			}
			if doc.UploadDate.IsZero() {
				if known, ok := w.reg.Get(id); ok {
					doc.UploadDate = known.UploadDate
				}
			}
			listed[id] = true
			docs = append(docs, doc)
		}
		for _, d := range w.reg.List() {
			if !listed[d.ID] && w.addedGen[d.ID] > issued {
				docs = append(docs, d)
			}
		}

		if w.reg.Replace(docs) {
			w.resetSessionLocked("")
		}
		return true
	})
}

// SelectDocument makes id the active document and loads its history. An
// empty id clears the selection and the transcript. Selecting the document
// that is already active only refreshes its history.
func (w *Workspace) SelectDocument(ctx context.Context, id string) error {
	var (
		err   error
		epoch uint64
	)
	w.mutate(func() bool {
		if id != "" && id == w.reg.ActiveID() {
			epoch = w.sess.epoch
			return false
		}
		if err = w.reg.Select(id); err != nil {
			return false
		}
		w.resetSessionLocked(id)
		epoch = w.sess.epoch
		return true
	})
	if err != nil {
		return err
	}
	if id != "" {
		w.reload(ctx, id, epoch)
	}
	return nil
}

// DeleteDocument deletes a document on the backend and then drops it from the
// registry. Deleting the active document clears the selection and the
// transcript. A backend failure leaves everything untouched.
func (w *Workspace) DeleteDocument(ctx context.Context, id string) error {
	if err := w.gw.DeleteDocument(ctx, id); err != nil {
		w.logger.Warn("deleting document failed", "document_id", id, "error", err)
		return failure(err, gateway.FallbackDeleteDocument)
	}

	w.mutate(func() bool {
		if _, ok := w.reg.Get(id); !ok {
			return false
		}
		w.removeLocked(id)
		return true
	})
	w.logger.Info("document deleted", "document_id", id)
	return nil
}

// Reload refetches the active document's history and rebuilds the
// transcript from it. A failed fetch leaves an empty history.
func (w *Workspace) Reload(ctx context.Context) {
	w.mu.Lock()
	docID, epoch := w.sess.docID, w.sess.epoch
	w.mu.Unlock()

	if docID == "" {
		return
	}
	w.reload(ctx, docID, epoch)
}

func (w *Workspace) reload(ctx context.Context, docID string, epoch uint64) {
	w.mu.Lock()
	if w.sess.epoch != epoch {
		w.mu.Unlock()
		return
	}
	mark := w.sess.transcript.Mark()
	w.mu.Unlock()

	var history []transcript.Message
	records, err := w.gw.ListQuestions(ctx, docID)
	if err != nil {
		w.logger.Warn("loading chat history failed, showing empty transcript", "document_id", docID, "error", err)
	} else {
		history = transcript.FromHistory(toRecords(records))
	}

	w.mutate(func() bool {
		if w.sess.epoch != epoch {
			w.logger.Debug("discarding stale history", "document_id", docID)
			return false
		}
		w.sess.transcript.Reconcile(history, mark)
		return true
	})
}

func toRecords(qs []gateway.QuestionRecord) []transcript.Record {
	out := make([]transcript.Record, len(qs))
	for i, q := range qs {
		out[i] = transcript.Record{
			ID:        q.ID.String(),
			Question:  q.Question,
			Answer:    q.Answer,
			Timestamp: q.Timestamp.Time,
		}
	}
	return out
}
