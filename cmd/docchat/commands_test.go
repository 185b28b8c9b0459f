package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/workspace"
)

type reply struct {
	status int
	body   string
}

func ok(body string) reply { return reply{status: http.StatusOK, body: body} }

type recordedRequest struct {
	Method string
	Path   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys from replies and 404s the rest
// with a FastAPI-style detail.
func newTestServer(t *testing.T, replies map[string]reply) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{Method: r.Method, Path: r.URL.Path})
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if rep, ok := replies[r.Method+" "+r.URL.Path]; ok {
			w.WriteHeader(rep.status)
			w.Write([]byte(rep.body))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Document not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) saw(method, path string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, r := range ts.requests {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

func testWorkspace(url string) *workspace.Workspace {
	return workspace.New(
		gateway.New(url, 5*time.Second),
		workspace.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// useBackend points every command at ts for the duration of the test.
func useBackend(t *testing.T, ts *testServer) {
	t.Helper()
	old := newWorkspace
	newWorkspace = func() (*workspace.Workspace, error) {
		return testWorkspace(ts.server.URL), nil
	}
	t.Cleanup(func() { newWorkspace = old })
}

// execute runs the root command and returns what it wrote to stdout and to
// the status stream.
func execute(t *testing.T, args ...string) (stdout, status string, err error) {
	t.Helper()
	color.NoColor = true

	var out, st bytes.Buffer
	oldDiag := diag
	diag = &st
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		diag = oldDiag
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	err = rootCmd.ExecuteContext(context.Background())
	return out.String(), st.String(), err
}

const documentsJSON = `[
  {"id": 1, "filename": "manual.pdf", "page_count": 12, "file_size": 2048, "upload_date": "2024-01-02T10:00:00"},
  {"id": 2, "filename": "contract.pdf", "page_count": 3, "file_size": 5242880, "upload_date": "2024-03-01T09:30:00"}
]`

func standardReplies() map[string]reply {
	return map[string]reply{
		"GET /documents":      ok(documentsJSON),
		"GET /questions/1":    ok(`[{"id": 5, "question": "How long is the warranty?", "answer": "Two years.", "timestamp": "2024-01-02T10:05:00"}]`),
		"GET /questions/2":    ok(`[]`),
		"GET /questions/7":    ok(`[]`),
		"POST /ask":           ok(`{"answer": "Two years.", "question": "warranty?", "document_filename": "manual.pdf", "sources": []}`),
		"POST /upload":        ok(`{"message": "PDF uploaded", "document_id": 7, "filename": "new.pdf", "page_count": 4, "file_size": 1536}`),
		"DELETE /documents/2": ok(`{"message": "Document and its Q&A deleted"}`),
		"DELETE /questions/1": ok(`{"message": "Deleted 1 questions for document 1"}`),
	}
}

func TestDocsList_NewestFirst(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	useBackend(t, ts)

	out, _, err := execute(t, "docs", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contract := strings.Index(out, "contract.pdf")
	manual := strings.Index(out, "manual.pdf")
	if contract < 0 || manual < 0 {
		t.Fatalf("output missing documents:\n%s", out)
	}
	if contract > manual {
		t.Errorf("expected newest upload first:\n%s", out)
	}
	if !strings.Contains(out, "5.00 MB") || !strings.Contains(out, "2.00 KB") {
		t.Errorf("expected human-readable sizes:\n%s", out)
	}
}

func TestDocsUpload(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	useBackend(t, ts)

	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "new.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4\n%%EOF\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, status, err := execute(t, "docs", "upload", pdfPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(status, "Uploaded new.pdf (4 pages, 1.50 KB) as document 7") {
		t.Errorf("status = %q", status)
	}
	if !ts.saw("POST", "/upload") {
		t.Error("upload request not sent")
	}
}

func TestDocsUpload_RejectsNonPDFContent(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	useBackend(t, ts)

	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("just some text"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := execute(t, "docs", "upload", path)
	if err == nil || err.Error() != workspace.ErrUnsupportedType.Error() {
		t.Fatalf("err = %v, want %v", err, workspace.ErrUnsupportedType)
	}
	if ts.saw("POST", "/upload") {
		t.Error("non-PDF content reached the backend")
	}
}

func TestDocsDelete(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	useBackend(t, ts)

	if _, _, err := execute(t, "docs", "delete", "2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.saw("DELETE", "/documents/2") {
		t.Error("delete request not sent")
	}

	_, _, err := execute(t, "docs", "delete", "99")
	if err == nil || err.Error() != "Document not found" {
		t.Errorf("err = %v, want backend detail", err)
	}
}

func TestAsk(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	useBackend(t, ts)

	out, _, err := execute(t, "ask", "--doc", "1", "How", "long", "is", "the", "warranty?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Two years.\n" {
		t.Errorf("out = %q", out)
	}
}

func TestAsk_Errors(t *testing.T) {
	replies := standardReplies()
	replies["POST /ask"] = reply{status: http.StatusInternalServerError, body: `{"detail": "Error processing question: index unavailable"}`}
	ts := newTestServer(t, replies)
	useBackend(t, ts)

	_, _, err := execute(t, "ask", "--doc", "1", "warranty?")
	if err == nil || err.Error() != "Error processing question: index unavailable" {
		t.Errorf("err = %v, want backend detail", err)
	}

	_, _, err = execute(t, "ask", "--doc", "42", "warranty?")
	if err == nil || !strings.Contains(err.Error(), `unknown document "42"`) {
		t.Errorf("err = %v, want unknown document", err)
	}
}

func TestHistoryShowAndClear(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	useBackend(t, ts)

	out, _, err := execute(t, "history", "show", "--doc", "1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "How long is the warranty?") || !strings.Contains(out, "Two years.") {
		t.Errorf("history output:\n%s", out)
	}
	if strings.Index(out, "How long") > strings.Index(out, "Two years.") {
		t.Errorf("question should precede answer:\n%s", out)
	}

	out, _, err = execute(t, "history", "show", "--doc", "2")
	if err != nil {
		t.Fatalf("show empty: %v", err)
	}
	if !strings.Contains(out, "No questions asked yet.") {
		t.Errorf("empty history output = %q", out)
	}

	if _, _, err := execute(t, "history", "clear", "--doc", "1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !ts.saw("DELETE", "/questions/1") {
		t.Error("clear request not sent")
	}
}

func TestBackendUnreachable(t *testing.T) {
	ts := newTestServer(t, nil)
	url := ts.server.URL
	ts.server.Close()

	old := newWorkspace
	newWorkspace = func() (*workspace.Workspace, error) { return testWorkspace(url), nil }
	t.Cleanup(func() { newWorkspace = old })

	_, _, err := execute(t, "docs", "list")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Failed to load documents") || !strings.Contains(err.Error(), "docchat serve") {
		t.Errorf("err = %q, want fallback detail with hint", err)
	}
}

func TestRunChat(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	ws := testWorkspace(ts.server.URL)
	ctx := context.Background()
	if err := ws.LoadDocuments(ctx); err != nil {
		t.Fatal(err)
	}
	color.NoColor = true

	input := strings.Join([]string{
		"warranty?",
		"/use 9",
		"/use 1",
		"warranty?",
		"/clear",
		"/bogus",
		"/quit",
		"never read",
	}, "\n")
	var out bytes.Buffer
	if err := runChat(ctx, ws, strings.NewReader(input), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Select a document first",
		`Unknown document "9"`,
		"Chatting about manual.pdf",
		"bot Two years.",
		"History cleared",
		"Unknown command /bogus",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if !ts.saw("POST", "/ask") || !ts.saw("DELETE", "/questions/1") {
		t.Error("expected ask and clear requests")
	}
}

func TestRunChat_EndsOnEOF(t *testing.T) {
	ts := newTestServer(t, standardReplies())
	ws := testWorkspace(ts.server.URL)

	var out bytes.Buffer
	if err := runChat(context.Background(), ws, strings.NewReader("/docs\n"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "contract.pdf") {
		t.Errorf("/docs should list documents:\n%s", out.String())
	}
}

func TestConfigSetAndShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range config.ShowAll(config.Config{}) {
		t.Setenv(k.EnvVar, "")
	}

	if _, _, err := execute(t, "config", "set", "server.port", "9300"); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, _, err := execute(t, "config", "set", "nope", "1")
	if err == nil || !strings.Contains(err.Error(), "valid keys") {
		t.Errorf("err = %v, want valid keys hint", err)
	}

	out, _, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "server.port = 9300") {
		t.Errorf("config show:\n%s", out)
	}

	if _, _, err := execute(t, "config", "unset", "server.port"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	out, _, _ = execute(t, "config", "show")
	if !strings.Contains(out, "server.port = 8000") {
		t.Errorf("config show after unset:\n%s", out)
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{5 * 1024 * 1024, "5.00 MB"},
	}
	for _, tt := range tests {
		if got := formatFileSize(tt.n); got != tt.want {
			t.Errorf("formatFileSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	got := allowedOrigins(" http://localhost:5000, ,http://app.local ")
	if len(got) != 2 || got[0] != "http://localhost:5000" || got[1] != "http://app.local" {
		t.Errorf("allowedOrigins = %q", got)
	}
	if got := allowedOrigins(""); got != nil {
		t.Errorf("allowedOrigins(\"\") = %q, want nil", got)
	}
}

func TestNewLogger_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "docchat.log")
	var console bytes.Buffer

	logger := newLogger(config.LogConfig{Level: "debug", File: path}, &console)
	logger.Debug("document uploaded", "document_id", "7")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	for _, got := range []string{string(data), console.String()} {
		if !strings.Contains(got, "document uploaded") || !strings.Contains(got, "document_id=7") {
			t.Errorf("log output = %q", got)
		}
	}

	quiet := newLogger(config.LogConfig{Level: "warn"}, &console)
	console.Reset()
	quiet.Info("hidden")
	if console.Len() != 0 {
		t.Errorf("info logged at warn level: %q", console.String())
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}
