package workspace

import (
	"context"
	"mime"
	"strings"

	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/registry"
)

// PDFMediaType is the only media type Upload accepts.
const PDFMediaType = "application/pdf"

// File is a document picked for upload, whichever way it was picked.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// IsPDF reports whether mediaType names a PDF. Parameters are ignored.
func IsPDF(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, PDFMediaType)
}

// Upload sends f to the backend, registers the resulting document and makes
// it the active one. Non-PDF files are rejected before any request is made.
// Snapshot().Loading is true while any upload is in flight.
func (w *Workspace) Upload(ctx context.Context, f File) (registry.Document, error) {
	if !IsPDF(f.MediaType) {
		return registry.Document{}, ErrUnsupportedType
	}

	w.mutate(func() bool {
		w.uploads++
		return true
	})

	res, err := w.gw.UploadDocument(ctx, f.Name, f.Data)
	if err == nil && res.DocumentID == "" {
		err = &gateway.Error{Op: "upload document", Detail: "backend returned no document id"}
	}

	var (
		doc    registry.Document
		addErr error
		epoch  uint64
	)
	w.mutate(func() bool {
		w.uploads--
		if err != nil {
			return true
		}
		doc = registry.Document{
			ID:         res.DocumentID.String(),
			Filename:   res.Filename,
			PageCount:  res.PageCount,
			FileSize:   res.FileSize,
			UploadDate: w.clock.Now(),
		}
		if doc.Filename == "" {
			doc.Filename = f.Name
		}
		if addErr = w.addLocked(doc); addErr != nil {
			return true
		}
		if addErr = w.reg.Select(doc.ID); addErr != nil {
			return true
		}
		w.resetSessionLocked(doc.ID)
		epoch = w.sess.epoch
		return true
	})

	if err != nil {
		w.logger.Warn("upload failed", "filename", f.Name, "error", err)
		return registry.Document{}, failure(err, gateway.FallbackUpload)
	}
	if addErr != nil {
		w.logger.Error("registering uploaded document failed", "document_id", doc.ID, "error", addErr)
		return registry.Document{}, addErr
	}

	w.logger.Info("document uploaded", "document_id", doc.ID, "filename", doc.Filename, "pages", doc.PageCount)
	w.reload(ctx, doc.ID, epoch)
	return doc, nil
}
