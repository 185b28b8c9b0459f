package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded PDF. Filename is the stored name on disk,
// OriginalFilename the name the client uploaded it under.
type Document struct {
	ID               int64
	Filename         string
	OriginalFilename string
	FilePath         string
	TextContent      string
	PageCount        int
	FileSize         int64
	UploadDate       time.Time
}

// Question is one answered question about a document.
type Question struct {
	ID           int64
	DocumentID   int64
	QuestionText string
	AnswerText   string
	Timestamp    time.Time
}
