package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Fallback details used when the backend gives no detail of its own.
const (
	FallbackUpload          = "Upload failed"
	FallbackListDocuments   = "Failed to load documents"
	FallbackDeleteDocument  = "Failed to delete document"
	FallbackListQuestions   = "Failed to load chat history"
	FallbackDeleteQuestions = "Failed to clear chat history"
	FallbackAsk             = "Question processing failed"
)

// Error is the single failure shape returned by Client. Transport failures
// have Status 0.
type Error struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Detail extracts the human-readable detail from err, or returns fallback
// when err carries none.
func Detail(err error, fallback string) string {
	var gerr *Error
	if errors.As(err, &gerr) && strings.TrimSpace(gerr.Detail) != "" {
		return gerr.Detail
	}
	return fallback
}

// parseDetail reads the detail field of an error body. FastAPI returns either
// {"detail": "..."} or, for validation errors, {"detail": [{"msg": "..."}]}.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
