package transcript

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Role identifies who authored a transcript line.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one line of the visible transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one persisted question/answer exchange as returned by the backend.
type Record struct {
	ID        string
	Question  string
	Answer    string
	Timestamp time.Time
}

const (
	userPrefix  = "q-"
	botPrefix   = "a-"
	localPrefix = "local-"
)

// FromHistory maps records to messages: a user line and a bot line per record,
// in input order. Ids are derived from the record id, so the same input always
// yields the same output.
func FromHistory(records []Record) []Message {
	out := make([]Message, 0, 2*len(records))
	for _, r := range records {
		out = append(out,
			Message{ID: userPrefix + r.ID, Role: RoleUser, Content: r.Question, Timestamp: r.Timestamp},
			Message{ID: botPrefix + r.ID, Role: RoleBot, Content: r.Answer, Timestamp: r.Timestamp},
		)
	}
	return out
}

// IDSource hands out ids for messages created locally before the backend has
// confirmed them. They never collide with ids produced by FromHistory.
type IDSource struct {
	n atomic.Uint64
}

// Pair returns the ids for one question/answer turn.
func (s *IDSource) Pair() (userID, botID string) {
	n := s.n.Add(1)
	return fmt.Sprintf("%s%d-q", localPrefix, n), fmt.Sprintf("%s%d-a", localPrefix, n)
}

// Transcript is the server-derived history of a session followed by the
// optimistic messages appended locally since.
type Transcript struct {
	history []Message
	local   []Message
}

// Messages returns a copy of the full transcript in display order.
func (t *Transcript) Messages() []Message {
	out := make([]Message, 0, len(t.history)+len(t.local))
	out = append(out, t.history...)
	return append(out, t.local...)
}

func (t *Transcript) Len() int {
	return len(t.history) + len(t.local)
}

// Append adds optimistic messages at the end.
func (t *Transcript) Append(msgs ...Message) {
	t.local = append(t.local, msgs...)
}

// Mark records the point a refetch was issued at. Pass it to Reconcile.
func (t *Transcript) Mark() int {
	return len(t.local)
}

// Reconcile installs a freshly fetched history. Local messages appended
// before mark are assumed to be covered by history and are dropped. Turns
// appended after it are kept after the new history unless history already
// holds the same question and answer, as happens when an answer lands while
// the refetch is in flight.
func (t *Transcript) Reconcile(history []Message, mark int) {
	if mark > len(t.local) {
		mark = len(t.local)
	}

	unclaimed := make(map[turn]int)
	for _, tn := range turns(history) {
		unclaimed[tn]++
	}
	for _, tn := range turns(t.local[:mark]) {
		if unclaimed[tn] > 0 {
			unclaimed[tn]--
		}
	}

	var kept []Message
	later := t.local[mark:]
	for i := 0; i < len(later); i++ {
		if i+1 < len(later) && isTurn(later[i], later[i+1]) {
			tn := turn{later[i].Content, later[i+1].Content}
			if unclaimed[tn] > 0 {
				unclaimed[tn]--
				i++
				continue
			}
			kept = append(kept, later[i], later[i+1])
			i++
			continue
		}
		kept = append(kept, later[i])
	}
	t.history = history
	t.local = kept
}

// turn is a question and its answer, compared by content.
type turn struct {
	question, answer string
}

func isTurn(q, a Message) bool {
	return q.Role == RoleUser && a.Role == RoleBot
}

func turns(msgs []Message) []turn {
	var out []turn
	for i := 0; i+1 < len(msgs); i++ {
		if isTurn(msgs[i], msgs[i+1]) {
			out = append(out, turn{msgs[i].Content, msgs[i+1].Content})
			i++
		}
	}
	return out
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.history = nil
	t.local = nil
}
