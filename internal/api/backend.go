package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/pdftext"
	"github.com/kalambet/docchat/internal/storage"
)

const (
	defaultMaxUploadBytes = 20 << 20 // 20MB
	maxFormBytes          = 1 << 20  // 1MB

	detailDocumentNotFound = "Document not found"
)

// Answerer answers questions about document text.
// Implemented by answer.Answerer.
type Answerer interface {
	Answer(ctx context.Context, docID, text, question string) (answer.Result, error)
	Prepare(docID, text string) error
	Forget(docID string)
}

type BackendDeps struct {
	Store          *storage.Store
	Answerer       Answerer
	UploadDir      string
	MaxUploadBytes int64    // 0 means defaultMaxUploadBytes
	AllowedOrigins []string // CORS; empty disables cross-origin access
	Logger         *slog.Logger
}

// NewBackendHandler returns the document Q&A HTTP API: upload, listing and
// deletion of PDF documents, questions about them and their history.
func NewBackendHandler(deps BackendDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", handleHealth)
	r.Post("/upload", handleUpload(deps))
	r.Post("/ask", handleAsk(deps))
	r.Get("/documents", handleListDocuments(deps))
	r.Delete("/documents/{id}", handleDeleteDocument(deps))
	r.Get("/questions/{id}", handleListQuestions(deps))
	r.Delete("/questions/{id}", handleDeleteQuestions(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Message    string `json:"message"`
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count"`
	FileSize   int64  `json:"file_size"`
	NLPReady   bool   `json:"nlp_ready"`
}

func handleUpload(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+maxFormBytes)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeDetail(w, http.StatusRequestEntityTooLarge, "File exceeds the %d byte upload limit", deps.MaxUploadBytes)
				return
			}
			writeMissingField(w, "file")
			return
		}
		defer file.Close()

		if !pdftext.IsPDF(header.Filename) {
			writeDetail(w, http.StatusBadRequest, "Only PDF files are allowed")
			return
		}

		data, err := io.ReadAll(io.LimitReader(file, deps.MaxUploadBytes+1))
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Reading upload failed: %v", err)
			return
		}
		if int64(len(data)) > deps.MaxUploadBytes {
			writeDetail(w, http.StatusRequestEntityTooLarge, "File exceeds the %d byte upload limit", deps.MaxUploadBytes)
			return
		}

		text, err := pdftext.Extract(data)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "PDF processing failed: %v", err)
			return
		}

		stored := uuid.New().String() + ".pdf"
		path := filepath.Join(deps.UploadDir, stored)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			writeDetail(w, http.StatusInternalServerError, "Saving upload failed: %v", err)
			return
		}

		doc, err := deps.Store.CreateDocument(storage.Document{
			Filename:         stored,
			OriginalFilename: header.Filename,
			FilePath:         path,
			TextContent:      text.Text,
			PageCount:        text.PageCount,
			FileSize:         int64(len(data)),
		})
		if err != nil {
			os.Remove(path)
			writeDetail(w, http.StatusInternalServerError, "Saving document failed: %v", err)
			return
		}

		docID := strconv.FormatInt(doc.ID, 10)
		ready := deps.Answerer.Prepare(docID, doc.TextContent) == nil
		if !ready {
			deps.Logger.Warn("document has no text to answer from", "document_id", doc.ID, "filename", doc.OriginalFilename)
		}
		deps.Logger.Info("document uploaded", "document_id", doc.ID, "filename", doc.OriginalFilename,
			"pages", doc.PageCount, "bytes", doc.FileSize)

		writeJSON(w, http.StatusOK, uploadResponse{
			Message:    "PDF uploaded",
			DocumentID: doc.ID,
			Filename:   doc.OriginalFilename,
			PageCount:  doc.PageCount,
			FileSize:   doc.FileSize,
			NLPReady:   ready,
		})
	}
}

type askResponse struct {
	Answer           string          `json:"answer"`
	Question         string          `json:"question"`
	DocumentFilename string          `json:"document_filename"`
	Sources          []answer.Source `json:"sources"`
}

func handleAsk(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		defer r.Body.Close()

		if err := parseForm(r); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid form body: %v", err)
			return
		}

		rawID := r.FormValue("document_id")
		question := r.FormValue("question")
		switch {
		case rawID == "":
			writeMissingField(w, "document_id")
			return
		case question == "":
			writeMissingField(w, "question")
			return
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			writeInvalidInt(w, "body", "document_id")
			return
		}

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, detailDocumentNotFound)
			return
		}
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Loading document failed: %v", err)
			return
		}

		res, err := deps.Answerer.Answer(r.Context(), strconv.FormatInt(id, 10), doc.TextContent, question)
		if err != nil {
			deps.Logger.Warn("answering failed", "document_id", id, "error", err)
			writeDetail(w, http.StatusInternalServerError, "%v", err)
			return
		}

		if _, err := deps.Store.SaveQuestion(storage.Question{
			DocumentID:   id,
			QuestionText: question,
			AnswerText:   res.Answer,
		}); err != nil {
			writeDetail(w, http.StatusInternalServerError, "Saving question failed: %v", err)
			return
		}

		sources := res.Sources
		if sources == nil {
			sources = []answer.Source{}
		}
		writeJSON(w, http.StatusOK, askResponse{
			Answer:           res.Answer,
			Question:         question,
			DocumentFilename: doc.OriginalFilename,
			Sources:          sources,
		})
	}
}

// parseForm accepts both multipart and urlencoded bodies.
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(maxFormBytes)
	}
	return r.ParseForm()
}

type documentResponse struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	UploadDate time.Time `json:"upload_date"`
	PageCount  int       `json:"page_count"`
	FileSize   int64     `json:"file_size"`
}

func handleListDocuments(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments()
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Listing documents failed: %v", err)
			return
		}

		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = documentResponse{
				ID:         d.ID,
				Filename:   d.OriginalFilename,
				UploadDate: d.UploadDate,
				PageCount:  d.PageCount,
				FileSize:   d.FileSize,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteDocument(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		doc, err := deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, detailDocumentNotFound)
			return
		}
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Deleting document failed: %v", err)
			return
		}

		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			deps.Logger.Warn("removing stored file failed", "path", doc.FilePath, "error", err)
		}
		deps.Answerer.Forget(strconv.FormatInt(id, 10))
		deps.Logger.Info("document deleted", "document_id", id)

		writeJSON(w, http.StatusOK, map[string]string{"message": "Document and its Q&A deleted"})
	}
}

type questionResponse struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

func handleListQuestions(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		qs, err := deps.Store.ListQuestions(id)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Listing questions failed: %v", err)
			return
		}

		out := make([]questionResponse, len(qs))
		for i, q := range qs {
			out[i] = questionResponse{
				ID:        q.ID,
				Question:  q.QuestionText,
				Answer:    q.AnswerText,
				Timestamp: q.Timestamp,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteQuestions(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		n, err := deps.Store.DeleteQuestions(id)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Deleting questions failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Deleted %d questions for document %d", n, id),
		})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeInvalidInt(w, "path", "document_id")
		return 0, false
	}
	return id, true
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body of the form {"detail": "..."}.
func writeDetail(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

type validationItem struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// writeMissingField reports a missing form field as a 422 whose detail is a
// list of validation items.
func writeMissingField(w http.ResponseWriter, field string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]validationItem{
		"detail": {{Loc: []string{"body", field}, Msg: "Field required", Type: "missing"}},
	})
}

func writeInvalidInt(w http.ResponseWriter, loc, field string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]validationItem{
		"detail": {{Loc: []string{loc, field}, Msg: "Input should be a valid integer", Type: "int_parsing"}},
	})
}
