package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 64 << 10
)

// UploadResult is the backend's answer to a successful upload.
type UploadResult struct {
	DocumentID ID     `json:"document_id"`
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count"`
	FileSize   int64  `json:"file_size"`
}

// DocumentInfo is one entry of the document listing.
type DocumentInfo struct {
	ID         ID        `json:"id"`
	Filename   string    `json:"filename"`
	PageCount  int       `json:"page_count"`
	FileSize   int64     `json:"file_size"`
	UploadDate Timestamp `json:"upload_date"`
}

// QuestionRecord is one persisted question/answer pair.
type QuestionRecord struct {
	ID        ID        `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp Timestamp `json:"timestamp"`
}

// Answer is the backend's response to a question.
type Answer struct {
	Answer           string          `json:"answer"`
	Question         string          `json:"question,omitempty"`
	DocumentFilename string          `json:"document_filename,omitempty"`
	Sources          json.RawMessage `json:"sources,omitempty"`
}

// Client talks to the document question-answering backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL. A non-positive timeout uses the default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient creates a Client that sends requests through hc.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// UploadDocument sends a PDF as multipart field "file".
func (c *Client) UploadDocument(ctx context.Context, filename string, data []byte) (UploadResult, error) {
	const op = "upload document"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, &Error{Op: op, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, &Error{Op: op, Err: err}
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, &Error{Op: op, Err: err}
	}

	var res UploadResult
	if err := c.do(ctx, op, http.MethodPost, "/upload", mw.FormDataContentType(), &buf, &res); err != nil {
		return UploadResult{}, err
	}
	return res, nil
}

// ListDocuments returns every document the backend knows.
func (c *Client) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	var docs []DocumentInfo
	if err := c.do(ctx, "list documents", http.MethodGet, "/documents", "", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteDocument removes a document together with its question history.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, "delete document", http.MethodDelete, "/documents/"+url.PathEscape(id), "", nil, nil)
}

// ListQuestions returns the question history of a document, oldest first.
func (c *Client) ListQuestions(ctx context.Context, documentID string) ([]QuestionRecord, error) {
	var qs []QuestionRecord
	if err := c.do(ctx, "list questions", http.MethodGet, "/questions/"+url.PathEscape(documentID), "", nil, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// DeleteQuestions removes the whole question history of a document.
func (c *Client) DeleteQuestions(ctx context.Context, documentID string) error {
	return c.do(ctx, "delete questions", http.MethodDelete, "/questions/"+url.PathEscape(documentID), "", nil, nil)
}

// AskQuestion asks the backend a question about a document.
func (c *Client) AskQuestion(ctx context.Context, documentID, question string) (Answer, error) {
	const op = "ask question"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("document_id", documentID); err != nil {
		return Answer{}, &Error{Op: op, Err: err}
	}
	if err := mw.WriteField("question", question); err != nil {
		return Answer{}, &Error{Op: op, Err: err}
	}
	if err := mw.Close(); err != nil {
		return Answer{}, &Error{Op: op, Err: err}
	}

	var ans Answer
	if err := c.do(ctx, op, http.MethodPost, "/ask", mw.FormDataContentType(), &buf, &ans); err != nil {
		return Answer{}, err
	}
	return ans, nil
}

// do performs one request and decodes a JSON response into out (when
// non-nil). Every failure comes back as *Error.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("backend not reachable: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Op:     op,
			Status: resp.StatusCode,
			Detail: parseDetail(raw),
			Err:    fmt.Errorf("backend returned %d", resp.StatusCode),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
