package registry

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrDuplicateID is returned by Add when a document with the same id is
	// already registered.
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrUnknownDocument is returned by Select for an id that is not registered.
	ErrUnknownDocument = errors.New("unknown document")
)

// Document is an uploaded file known to the backend.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	PageCount  int       `json:"page_count"`
	FileSize   int64     `json:"file_size"`
	UploadDate time.Time `json:"upload_date"`
}

// Registry holds the known documents and the single active selection.
// If activeID is non-empty it always names a document in docs.
//
// Registry is not safe for concurrent use; the owner serializes access.
type Registry struct {
	docs     map[string]Document
	activeID string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{docs: make(map[string]Document)}
}

// Add inserts doc. Documents are never replaced in place.
func (r *Registry) Add(doc Document) error {
	if _, ok := r.docs[doc.ID]; ok {
		return ErrDuplicateID
	}
	r.docs[doc.ID] = doc
	return nil
}

// Select sets the active document. An empty id clears the selection.
func (r *Registry) Select(id string) error {
	if id == "" {
		r.activeID = ""
		return nil
	}
	if _, ok := r.docs[id]; !ok {
		return ErrUnknownDocument
	}
	r.activeID = id
	return nil
}

// Remove deletes the document with the given id and reports whether it was
// the active one, in which case the selection is cleared as well. Absent ids
// are ignored.
func (r *Registry) Remove(id string) (wasActive bool) {
	if _, ok := r.docs[id]; !ok {
		return false
	}
	delete(r.docs, id)
	if r.activeID == id {
		r.activeID = ""
		return true
	}
	return false
}

// Replace swaps the whole document set for docs. The selection survives only
// if the active document is still present; the return value reports whether
// it was dropped. Later duplicates in docs are ignored.
func (r *Registry) Replace(docs []Document) (selectionCleared bool) {
	next := make(map[string]Document, len(docs))
	for _, d := range docs {
		if _, ok := next[d.ID]; ok {
			continue
		}
		next[d.ID] = d
	}
	r.docs = next
	if r.activeID != "" {
		if _, ok := next[r.activeID]; !ok {
			r.activeID = ""
			return true
		}
	}
	return false
}

// Get returns the document with the given id.
func (r *Registry) Get(id string) (Document, bool) {
	d, ok := r.docs[id]
	return d, ok
}

// ActiveID returns the active document id, or "" when nothing is selected.
func (r *Registry) ActiveID() string {
	return r.activeID
}

// Active returns the active document.
func (r *Registry) Active() (Document, bool) {
	if r.activeID == "" {
		return Document{}, false
	}
	return r.Get(r.activeID)
}

func (r *Registry) Len() int {
	return len(r.docs)
}

// List returns a copy of the documents, newest upload first. Ties are broken
// by filename and then id so the order is stable.
func (r *Registry) List() []Document {
	out := make([]Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].UploadDate.After(out[j].UploadDate)
		}
		if out[i].Filename != out[j].Filename {
			return out[i].Filename < out[j].Filename
		}
		return out[i].ID < out[j].ID
	})
	return out
}
