// Package answer answers questions about a document's text. Passages are
// ranked by term overlap with the question; when a Generator is configured
// it writes the answer from the top passages, otherwise the best matching
// sentences are returned verbatim.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTopK      = 3
	defaultSentences = 3
	defaultIndexTTL  = time.Hour

	// NoMatch is the answer given when nothing in the document matches.
	NoMatch = "I could not find anything in the document that answers this question."
)

// ErrNoText is returned for documents without extractable text.
var ErrNoText = errors.New("document has no extractable text")

// Generator writes an answer to question from the given passages.
type Generator interface {
	Generate(ctx context.Context, question string, passages []string) (string, error)
}

// Source is a passage the answer was drawn from.
type Source struct {
	Content  string         `json:"content"`
	Metadata SourceMetadata `json:"metadata"`
}

type SourceMetadata struct {
	DocumentID string `json:"document_id"`
	ChunkID    int    `json:"chunk_id"`
}

// Result is an answer and the passages behind it.
type Result struct {
	Answer  string
	Sources []Source
}

// Answerer answers questions, keeping a per-document index in memory.
// Every use of an index pushes its expiry back, so an index is dropped only
// after an hour without questions and is rebuilt on demand.
type Answerer struct {
	indexes *cache.Cache
	ttl     time.Duration
	builds  singleflight.Group
	gen     Generator
	topK    int
	logger  *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithGenerator makes the Answerer generate answers from the top passages.
func WithGenerator(g Generator) Option {
	return func(a *Answerer) { a.gen = g }
}

func WithTopK(k int) Option {
	return func(a *Answerer) {
		if k > 0 {
			a.topK = k
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Answerer) { a.logger = l }
}

// WithIndexTTL sets how long an unused index stays cached.
func WithIndexTTL(d time.Duration) Option {
	return func(a *Answerer) {
		if d > 0 {
			a.ttl = d
		}
	}
}

func New(opts ...Option) *Answerer {
	a := &Answerer{
		ttl:    defaultIndexTTL,
		topK:   defaultTopK,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.indexes = cache.New(a.ttl, a.ttl/6)
	return a
}

// Prepare builds and caches the index for a document so the first question
// does not pay for it.
func (a *Answerer) Prepare(docID, text string) error {
	_, err := a.index(docID, text)
	return err
}

// Forget drops the cached index of a document.
func (a *Answerer) Forget(docID string) {
	a.indexes.Delete(docID)
}

// Answer answers question about the document docID whose full text is text.
func (a *Answerer) Answer(ctx context.Context, docID, text, question string) (Result, error) {
	ix, err := a.index(docID, text)
	if err != nil {
		return Result{}, err
	}

	query := tokenize(question)
	top := ix.topChunks(query, a.topK)
	if len(top) == 0 {
		return Result{Answer: NoMatch, Sources: []Source{}}, nil
	}

	sources := make([]Source, len(top))
	passages := make([]string, len(top))
	for i, c := range top {
		sources[i] = Source{Content: c.text, Metadata: SourceMetadata{DocumentID: docID, ChunkID: c.id}}
		passages[i] = c.text
	}

	if a.gen != nil {
		out, err := a.gen.Generate(ctx, question, passages)
		if err == nil && strings.TrimSpace(out) != "" {
			return Result{Answer: strings.TrimSpace(out), Sources: sources}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		a.logger.Warn("answer generation failed, falling back to extracted sentences", "document_id", docID, "error", err)
	}

	sentences := ix.bestSentences(top, query, defaultSentences)
	return Result{Answer: strings.Join(sentences, " "), Sources: sources}, nil
}

func (a *Answerer) index(docID, text string) (*index, error) {
	if v, ok := a.indexes.Get(docID); ok {
		a.indexes.Set(docID, v, cache.DefaultExpiration)
		return v.(*index), nil
	}
	v, err, _ := a.builds.Do(docID, func() (any, error) {
		if strings.TrimSpace(text) == "" {
			return nil, ErrNoText
		}
		start := time.Now()
		ix := buildIndex(text)
		a.indexes.Set(docID, ix, cache.DefaultExpiration)
		a.logger.Debug("document indexed", "document_id", docID,
			"chunks", len(ix.chunks), "duration", time.Since(start))
		return ix, nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexing document %s: %w", docID, err)
	}
	return v.(*index), nil
}
