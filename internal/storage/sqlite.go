package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists documents and their question history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docchat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

// CreateDocument inserts d and returns it with its assigned ID. A zero
// UploadDate is set to now.
func (s *Store) CreateDocument(d Document) (Document, error) {
	if d.UploadDate.IsZero() {
		d.UploadDate = time.Now()
	}
	d.UploadDate = d.UploadDate.UTC().Truncate(time.Second)

	res, err := s.db.Exec(`
		INSERT INTO documents (filename, original_filename, file_path, text_content, page_count, file_size, upload_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Filename, d.OriginalFilename, d.FilePath, d.TextContent, d.PageCount, d.FileSize,
		d.UploadDate.Format(time.RFC3339),
	)
	if err != nil {
		return Document{}, err
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return Document{}, fmt.Errorf("reading document id: %w", err)
	}
	return d, nil
}

func (s *Store) GetDocument(id int64) (Document, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, original_filename, file_path, text_content, page_count, file_size, upload_date
		FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns every document in insertion order. TextContent is
// left empty; use GetDocument for the text.
func (s *Store) ListDocuments() ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, original_filename, file_path, '', page_count, file_size, upload_date
		FROM documents ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// DeleteDocument removes a document together with its questions and returns
// the removed row so the caller can clean up the stored file.
func (s *Store) DeleteDocument(id int64) (Document, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Document{}, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := scanDocument(tx.QueryRow(`
		SELECT id, filename, original_filename, file_path, '', page_count, file_size, upload_date
		FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}

	if _, err := tx.Exec(`DELETE FROM questions WHERE document_id = ?`, id); err != nil {
		return Document{}, fmt.Errorf("deleting questions for document %d: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return Document{}, fmt.Errorf("deleting document %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("committing delete: %w", err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var d Document
	var uploadDate string
	if err := r.Scan(&d.ID, &d.Filename, &d.OriginalFilename, &d.FilePath, &d.TextContent,
		&d.PageCount, &d.FileSize, &uploadDate); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadDate)
	if err != nil {
		return Document{}, fmt.Errorf("parsing upload_date: %w", err)
	}
	d.UploadDate = t
	return d, nil
}

// --- Questions ---

// SaveQuestion records an answered question. The document must exist.
func (s *Store) SaveQuestion(q Question) (Question, error) {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	q.Timestamp = q.Timestamp.UTC().Truncate(time.Second)

	res, err := s.db.Exec(`
		INSERT INTO questions (document_id, question_text, answer_text, timestamp)
		VALUES (?, ?, ?, ?)`,
		q.DocumentID, q.QuestionText, q.AnswerText, q.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return Question{}, err
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return Question{}, fmt.Errorf("reading question id: %w", err)
	}
	return q, nil
}

// ListQuestions returns a document's questions in the order they were asked.
func (s *Store) ListQuestions(documentID int64) ([]Question, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, question_text, answer_text, timestamp
		FROM questions WHERE document_id = ? ORDER BY id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Question
	for rows.Next() {
		var q Question
		var ts string
		if err := rows.Scan(&q.ID, &q.DocumentID, &q.QuestionText, &q.AnswerText, &ts); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		q.Timestamp = t
		results = append(results, q)
	}
	return results, rows.Err()
}

// DeleteQuestions removes a document's questions and reports how many went.
// An unknown document simply deletes nothing.
func (s *Store) DeleteQuestions(documentID int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM questions WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
