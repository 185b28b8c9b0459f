package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/storage"
)

// --- mocks ---

type mockAnswerer struct {
	mu       sync.Mutex
	prepared map[string]string
	forgot   []string
	answer   string
	err      error
}

func newMockAnswerer() *mockAnswerer {
	return &mockAnswerer{prepared: make(map[string]string), answer: "mock answer"}
}

func (m *mockAnswerer) Answer(_ context.Context, docID, text, question string) (answer.Result, error) {
	if m.err != nil {
		return answer.Result{}, m.err
	}
	return answer.Result{
		Answer:  m.answer,
		Sources: []answer.Source{{Content: text, Metadata: answer.SourceMetadata{DocumentID: docID}}},
	}, nil
}

func (m *mockAnswerer) Prepare(docID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared[docID] = text
	return nil
}

func (m *mockAnswerer) Forget(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgot = append(m.forgot, docID)
}

// --- helpers ---

type backendFixture struct {
	handler http.Handler
	store   *storage.Store
	answers *mockAnswerer
	dir     string
}

func setupBackend(t *testing.T, maxUpload int64) *backendFixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &backendFixture{store: store, answers: newMockAnswerer(), dir: t.TempDir()}
	f.handler = NewBackendHandler(BackendDeps{
		Store:          store,
		Answerer:       f.answers,
		UploadDir:      f.dir,
		MaxUploadBytes: maxUpload,
		AllowedOrigins: []string{"http://localhost:5000"},
		Logger:         quietLogger(),
	})
	return f
}

func (f *backendFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func askRequest(docID, question string) *http.Request {
	form := url.Values{}
	if docID != "" {
		form.Set("document_id", docID)
	}
	if question != "" {
		form.Set("question", question)
	}
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decoding body %q: %v", rr.Body.String(), err)
	}
}

func detailOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, rr, &body)
	return body.Detail
}

func (f *backendFixture) upload(t *testing.T, name string) uploadResponse {
	t.Helper()
	rr := f.do(uploadRequest(t, name, testPDF("The warranty lasts two years.")))
	if rr.Code != http.StatusOK {
		t.Fatalf("upload status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res uploadResponse
	decodeBody(t, rr, &res)
	return res
}

// testPDF builds a minimal one-page PDF showing text.
func testPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

// --- tests ---

func TestUpload_StoresDocument(t *testing.T) {
	f := setupBackend(t, 0)

	res := f.upload(t, "manual.pdf")
	if res.DocumentID == 0 || res.Filename != "manual.pdf" || res.PageCount != 1 || res.FileSize == 0 {
		t.Errorf("response = %+v", res)
	}
	if !res.NLPReady {
		t.Error("nlp_ready = false")
	}

	doc, err := f.store.GetDocument(res.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !strings.HasSuffix(doc.Filename, ".pdf") || doc.Filename == "manual.pdf" {
		t.Errorf("stored filename = %q, want <uuid>.pdf", doc.Filename)
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
	if _, ok := f.answers.prepared[fmt.Sprint(res.DocumentID)]; !ok {
		t.Error("answerer was not prepared for the new document")
	}
}

func TestUpload_RejectsNonPDFName(t *testing.T) {
	f := setupBackend(t, 0)

	rr := f.do(uploadRequest(t, "notes.txt", []byte("hello")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if got := detailOf(t, rr); got != "Only PDF files are allowed" {
		t.Errorf("detail = %q", got)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	f := setupBackend(t, 0)

	rr := f.do(uploadRequest(t, "", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var body struct {
		Detail []validationItem `json:"detail"`
	}
	decodeBody(t, rr, &body)
	if len(body.Detail) != 1 || body.Detail[0].Msg != "Field required" {
		t.Errorf("detail = %+v", body.Detail)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	f := setupBackend(t, 64)

	rr := f.do(uploadRequest(t, "big.pdf", testPDF("this file is larger than sixty four bytes")))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413; body = %s", rr.Code, rr.Body.String())
	}
}

func TestUpload_CorruptPDF(t *testing.T) {
	f := setupBackend(t, 0)

	rr := f.do(uploadRequest(t, "broken.pdf", []byte("%PDF-1.4 truncated")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := detailOf(t, rr); !strings.HasPrefix(got, "PDF processing failed") {
		t.Errorf("detail = %q", got)
	}
	entries, _ := os.ReadDir(f.dir)
	if len(entries) != 0 {
		t.Errorf("%d files left in upload dir", len(entries))
	}
}

func TestListDocuments(t *testing.T) {
	f := setupBackend(t, 0)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/documents", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("empty listing: status=%d body=%s", rr.Code, rr.Body.String())
	}

	f.upload(t, "a.pdf")
	f.upload(t, "b.pdf")

	rr = f.do(httptest.NewRequest(http.MethodGet, "/documents", nil))
	var docs []documentResponse
	decodeBody(t, rr, &docs)
	if len(docs) != 2 || docs[0].Filename != "a.pdf" || docs[1].Filename != "b.pdf" {
		t.Errorf("docs = %+v", docs)
	}
	if docs[0].UploadDate.IsZero() {
		t.Error("upload_date missing")
	}
}

func TestAsk_SavesQuestion(t *testing.T) {
	f := setupBackend(t, 0)
	doc := f.upload(t, "manual.pdf")
	id := fmt.Sprint(doc.DocumentID)

	rr := f.do(askRequest(id, "How long is the warranty?"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res askResponse
	decodeBody(t, rr, &res)
	if res.Answer != "mock answer" || res.Question != "How long is the warranty?" || res.DocumentFilename != "manual.pdf" {
		t.Errorf("response = %+v", res)
	}
	if len(res.Sources) != 1 {
		t.Errorf("sources = %+v", res.Sources)
	}

	rr = f.do(httptest.NewRequest(http.MethodGet, "/questions/"+id, nil))
	var qs []questionResponse
	decodeBody(t, rr, &qs)
	if len(qs) != 1 || qs[0].Question != "How long is the warranty?" || qs[0].Answer != "mock answer" {
		t.Errorf("questions = %+v", qs)
	}
}

func TestAsk_Errors(t *testing.T) {
	f := setupBackend(t, 0)
	doc := f.upload(t, "manual.pdf")
	id := fmt.Sprint(doc.DocumentID)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unknown document", askRequest("999", "q?"), http.StatusNotFound},
		{"missing document id", askRequest("", "q?"), http.StatusUnprocessableEntity},
		{"missing question", askRequest(id, ""), http.StatusUnprocessableEntity},
		{"non-numeric id", askRequest("abc", "q?"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(tt.req)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.status, rr.Body.String())
			}
		})
	}

	f.answers.err = errors.New("model unavailable")
	rr := f.do(askRequest(id, "q?"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := detailOf(t, rr); got != "model unavailable" {
		t.Errorf("detail = %q", got)
	}
}

func TestDeleteQuestions(t *testing.T) {
	f := setupBackend(t, 0)
	doc := f.upload(t, "manual.pdf")
	id := fmt.Sprint(doc.DocumentID)
	f.do(askRequest(id, "one?"))
	f.do(askRequest(id, "two?"))

	rr := f.do(httptest.NewRequest(http.MethodDelete, "/questions/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if want := "Deleted 2 questions for document " + id; body["message"] != want {
		t.Errorf("message = %q, want %q", body["message"], want)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := setupBackend(t, 0)
	doc := f.upload(t, "manual.pdf")
	id := fmt.Sprint(doc.DocumentID)
	stored, _ := f.store.GetDocument(doc.DocumentID)

	rr := f.do(httptest.NewRequest(http.MethodDelete, "/documents/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(stored.FilePath); !os.IsNotExist(err) {
		t.Errorf("stored file still present: %v", err)
	}
	if len(f.answers.forgot) != 1 || f.answers.forgot[0] != id {
		t.Errorf("forgot = %v", f.answers.forgot)
	}

	rr = f.do(httptest.NewRequest(http.MethodDelete, "/documents/"+id, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
	if got := detailOf(t, rr); got != "Document not found" {
		t.Errorf("detail = %q", got)
	}
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	f := setupBackend(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/documents", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := f.do(req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = f.do(req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

// TestGatewayRoundTrip drives the backend through the client the workspace
// uses, so both sides agree on the wire format.
func TestGatewayRoundTrip(t *testing.T) {
	f := setupBackend(t, 0)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	c := gateway.New(srv.URL, 5*time.Second)
	ctx := context.Background()

	up, err := c.UploadDocument(ctx, "manual.pdf", testPDF("The warranty lasts two years."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	id := up.DocumentID.String()
	if id == "" || up.Filename != "manual.pdf" || up.PageCount != 1 {
		t.Fatalf("upload = %+v", up)
	}

	docs, err := c.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].ID.String() != id || docs[0].UploadDate.IsZero() {
		t.Fatalf("docs = %+v", docs)
	}

	ans, err := c.AskQuestion(ctx, id, "warranty?")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if ans.Answer != "mock answer" || ans.DocumentFilename != "manual.pdf" {
		t.Errorf("answer = %+v", ans)
	}

	qs, err := c.ListQuestions(ctx, id)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 1 || qs[0].Question != "warranty?" || qs[0].Timestamp.IsZero() {
		t.Errorf("questions = %+v", qs)
	}

	if err := c.DeleteQuestions(ctx, id); err != nil {
		t.Fatalf("DeleteQuestions: %v", err)
	}
	if err := c.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	err = c.DeleteDocument(ctx, id)
	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.Status != http.StatusNotFound {
		t.Fatalf("second delete err = %v, want 404", err)
	}
	if got := gateway.Detail(err, gateway.FallbackDeleteDocument); got != "Document not found" {
		t.Errorf("detail = %q", got)
	}
}
