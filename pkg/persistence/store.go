// Package persistence provides the SQLite store for generated tests and
// token accounting.
//
// The store is a plain value: Open returns a *Store and callers pass it where
// needed. SQLite runs in WAL mode with a single writer connection.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"testforge/pkg/llm"
	"testforge/pkg/logx"
	"testforge/pkg/report"
)

// TestRecord is one persisted generation result: the target identity, the
// conversation that produced the test, the final test source and its last
// execution report.
type TestRecord struct {
	ID        int64
	Module    string
	Class     string // empty for free functions
	Object    string // function or method name
	History   llm.Conversation
	Test      string
	Report    report.ExecutionReport
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenUsage accumulates prompt and completion tokens per model.
type TokenUsage struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// RecordStore is the storage surface the generation pipeline depends on.
type RecordStore interface {
	SaveRecord(rec *TestRecord) (int64, error)
	RecordByID(id int64) (*TestRecord, error)
	RecordsForObject(module, class, object string) ([]TestRecord, error)
	UpdateRecord(id int64, test string, rep report.ExecutionReport) error
	UpdateHistory(id int64, history llm.Conversation) error
	DeleteRecord(id int64) error
	AddTokenUsage(model string, usage llm.Usage) error
	UsageForModel(model string) (TokenUsage, error)
	AllUsage() ([]TokenUsage, error)
}

// Store implements RecordStore over SQLite.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the database at dbPath and brings the schema up to
// date.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("database ready: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
