package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/transcript"
)

// Validation failures. None of them mutate state or reach the backend.
var (
	ErrNoActiveDocument  = errors.New("no document selected")
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrAlreadySubmitting = errors.New("a question is already being answered")
	ErrUnsupportedType   = errors.New("only PDF files are supported")
)

// ErrStaleResponse is returned when a response arrives after the active
// document changed. The response is dropped.
var ErrStaleResponse = errors.New("response discarded: active document changed")

// OpError is a failed backend operation reduced to its user-facing detail.
type OpError struct {
	Detail string
	Err    error
}

func (e *OpError) Error() string { return e.Detail }

func (e *OpError) Unwrap() error { return e.Err }

func failure(err error, fallback string) *OpError {
	return &OpError{Detail: gateway.Detail(err, fallback), Err: err}
}

// Gateway is the backend the workspace synchronizes with.
// Implemented by gateway.Client.
type Gateway interface {
	UploadDocument(ctx context.Context, filename string, data []byte) (gateway.UploadResult, error)
	ListDocuments(ctx context.Context) ([]gateway.DocumentInfo, error)
	DeleteDocument(ctx context.Context, id string) error
	ListQuestions(ctx context.Context, documentID string) ([]gateway.QuestionRecord, error)
	DeleteQuestions(ctx context.Context, documentID string) error
	AskQuestion(ctx context.Context, documentID, question string) (gateway.Answer, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// State is a point-in-time copy of everything the presentation layer renders.
type State struct {
	Documents  []registry.Document
	Active     *registry.Document
	Transcript []transcript.Message
	Pending    bool
	Loading    bool
	// Seq increases with every transition. Snapshots delivered to
	// subscribers can arrive out of order; keep the one with the highest Seq.
	Seq uint64
}

// session is the conversation about one active document. It is replaced
// wholesale whenever the active document changes; epoch identifies it.
type session struct {
	epoch      uint64
	docID      string
	transcript transcript.Transcript
	pending    bool
}

// Workspace owns the document registry and the conversation session and is
// the only writer of both. Backend calls are made without holding the lock;
// their results are applied only if the state they were issued against is
// still current.
type Workspace struct {
	gw     Gateway
	clock  Clock
	logger *slog.Logger
	ids    transcript.IDSource
	lists  singleflight.Group

	mu      sync.Mutex
	reg     *registry.Registry
	sess    session
	uploads int

	// registry generation, bumped on every add/remove, and the generation at
	// which each id was last added or removed. Used to reconcile listings.
	gen        uint64
	addedGen   map[string]uint64
	removedGen map[string]uint64

	seq     uint64
	subs    map[int]func(State)
	nextSub int
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithClock overrides the clock used to stamp upload dates and local messages.
func WithClock(c Clock) Option {
	return func(w *Workspace) { w.clock = c }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// New creates an empty Workspace backed by gw.
func New(gw Gateway, opts ...Option) *Workspace {
	w := &Workspace{
		gw:         gw,
		clock:      realClock{},
		logger:     slog.Default(),
		reg:        registry.New(),
		addedGen:   make(map[string]uint64),
		removedGen: make(map[string]uint64),
		subs:       make(map[int]func(State)),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Snapshot returns the current state.
func (w *Workspace) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block. Changes
// made concurrently may be delivered out of order; compare State.Seq.
func (w *Workspace) Subscribe(fn func(State)) (cancel func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

func (w *Workspace) snapshotLocked() State {
	st := State{
		Documents:  w.reg.List(),
		Transcript: w.sess.transcript.Messages(),
		Pending:    w.sess.pending,
		Loading:    w.uploads > 0,
		Seq:        w.seq,
	}
	if d, ok := w.reg.Active(); ok {
		st.Active = &d
	}
	return st
}

// mutate runs fn under the lock as a single transition. If fn reports a
// change, subscribers are notified with the resulting snapshot.
func (w *Workspace) mutate(fn func() bool) {
	w.mu.Lock()
	if !fn() {
		w.mu.Unlock()
		return
	}
	w.seq++
	st := w.snapshotLocked()
	subs := make([]func(State), 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()

	for _, s := range subs {
		s(st)
	}
}

// resetSessionLocked starts a fresh session for docID ("" for none).
func (w *Workspace) resetSessionLocked(docID string) {
	w.sess = session{epoch: w.sess.epoch + 1, docID: docID}
}

func (w *Workspace) addLocked(doc registry.Document) error {
	if err := w.reg.Add(doc); err != nil {
		return err
	}
	w.gen++
	w.addedGen[doc.ID] = w.gen
	return nil
}

func (w *Workspace) removeLocked(id string) {
	if _, ok := w.reg.Get(id); !ok {
		return
	}
	w.gen++
	w.removedGen[id] = w.gen
	if w.reg.Remove(id) {
		w.resetSessionLocked("")
	}
}
