package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/transcript"
)

// SubmitQuestion asks the backend about the active document. At most one
// question is in flight per session; further calls fail with
// ErrAlreadySubmitting until it resolves.
//
// Whatever the outcome, the question and a bot reply are appended to the
// transcript: the answer on success, the failure detail otherwise. If the
// active document changed in the meantime nothing is appended and
// ErrStaleResponse is returned.
func (w *Workspace) SubmitQuestion(ctx context.Context, text string) (string, error) {
	var (
		err   error
		docID string
		epoch uint64
	)
	w.mutate(func() bool {
		switch {
		case w.sess.docID == "":
			err = ErrNoActiveDocument
		case strings.TrimSpace(text) == "":
			err = ErrEmptyQuestion
		case w.sess.pending:
			err = ErrAlreadySubmitting
		}
		if err != nil {
			return false
		}
		w.sess.pending = true
		docID, epoch = w.sess.docID, w.sess.epoch
		return true
	})
	if err != nil {
		return "", err
	}

	ans, askErr := w.gw.AskQuestion(ctx, docID, text)

	reply := ans.Answer
	var opErr *OpError
	if askErr != nil {
		opErr = failure(askErr, gateway.FallbackAsk)
		reply = opErr.Detail
	}

	userID, botID := w.ids.Pair()
	now := w.clock.Now()
	stale := false
	w.mutate(func() bool {
		if w.sess.epoch != epoch {
			stale = true
			return false
		}
		w.sess.pending = false
		w.sess.transcript.Append(
			transcript.Message{ID: userID, Role: transcript.RoleUser, Content: text, Timestamp: now},
			transcript.Message{ID: botID, Role: transcript.RoleBot, Content: reply, Timestamp: now},
		)
		return true
	})

	if stale {
		w.logger.Debug("discarding stale answer", "document_id", docID)
		if opErr != nil {
			return "", fmt.Errorf("%w: %w", ErrStaleResponse, opErr)
		}
		return "", ErrStaleResponse
	}
	if opErr != nil {
		w.logger.Warn("question failed", "document_id", docID, "detail", opErr.Detail, "error", askErr)
		return "", opErr
	}
	return ans.Answer, nil
}

// ClearHistory deletes the active document's question history on the
// backend and then rebuilds the transcript from a fresh fetch. The refetch
// happens whenever the backend answered, even with an error status; only a
// request that got no response at all leaves the transcript untouched.
func (w *Workspace) ClearHistory(ctx context.Context) error {
	w.mu.Lock()
	docID, epoch := w.sess.docID, w.sess.epoch
	w.mu.Unlock()

	if docID == "" {
		return ErrNoActiveDocument
	}

	delErr := w.gw.DeleteQuestions(ctx, docID)
	if delErr != nil {
		var gerr *gateway.Error
		if !errors.As(delErr, &gerr) || gerr.Status == 0 {
			w.logger.Warn("clearing history failed", "document_id", docID, "error", delErr)
			return failure(delErr, gateway.FallbackDeleteQuestions)
		}
	}

	w.reload(ctx, docID, epoch)

	if delErr != nil {
		w.logger.Warn("clearing history reported an error", "document_id", docID, "error", delErr)
		return failure(delErr, gateway.FallbackDeleteQuestions)
	}
	return nil
}
