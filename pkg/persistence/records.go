package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"testforge/pkg/llm"
	"testforge/pkg/report"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// SaveRecord inserts a new test record and returns its id.
func (s *Store) SaveRecord(rec *TestRecord) (int64, error) {
	history, err := llm.EncodeConversation(rec.History)
	if err != nil {
		return 0, fmt.Errorf("failed to encode history: %w", err)
	}
	repJSON, err := rec.Report.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode report: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO tests (module, class, object, history, test, report)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Module, rec.Class, rec.Object, history, rec.Test, string(repJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert test record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert id: %w", err)
	}
	s.logger.Debug("saved test record %d for %s.%s", id, rec.Module, rec.Object)
	return id, nil
}

// RecordByID loads one record.
func (s *Store) RecordByID(id int64) (*TestRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, module, class, object, history, test, report, created_at, updated_at
		FROM tests WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// RecordsForObject returns every stored test for a target, oldest first.
// class is empty for free functions.
func (s *Store) RecordsForObject(module, class, object string) ([]TestRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, module, class, object, history, test, report, created_at, updated_at
		FROM tests WHERE module = ? AND class = ? AND object = ?
		ORDER BY id`, module, class, object)
	if err != nil {
		return nil, fmt.Errorf("failed to query test records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []TestRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate test records: %w", err)
	}
	return records, nil
}

// UpdateRecord replaces the stored test source and report.
func (s *Store) UpdateRecord(id int64, test string, rep report.ExecutionReport) error {
	repJSON, err := rep.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE tests SET test = ?, report = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, test, string(repJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update test record %d: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// UpdateHistory replaces the stored conversation.
func (s *Store) UpdateHistory(id int64, history llm.Conversation) error {
	encoded, err := llm.EncodeConversation(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE tests SET history = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update history for record %d: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// DeleteRecord removes a record.
func (s *Store) DeleteRecord(id int64) error {
	res, err := s.db.Exec("DELETE FROM tests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete test record %d: %w", id, err)
	}
	return requireRowAffected(res, id)
}

func requireRowAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*TestRecord, error) {
	var rec TestRecord
	var history, repJSON string
	if err := row.Scan(&rec.ID, &rec.Module, &rec.Class, &rec.Object,
		&history, &rec.Test, &repJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan test record: %w", err)
	}

	conv, err := llm.DecodeConversation(history)
	if err != nil {
		return nil, fmt.Errorf("failed to decode history for record %d: %w", rec.ID, err)
	}
	rec.History = conv

	rep, err := report.Decode([]byte(repJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode report for record %d: %w", rec.ID, err)
	}
	rec.Report = *rep
	return &rec, nil
}
