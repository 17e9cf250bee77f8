package logstore

import (
	"context"
	"encoding/json"
	"fmt"

	"ojcore/internal/common/db"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

// MySQLStore is the database-backed log store. Save upserts with
// INSERT ... ON DUPLICATE KEY UPDATE, swapping the whole record in one
// statement on a re-judge.
type MySQLStore struct {
	provider db.Provider
}

// NewMySQLStore creates the store on a database provider.
func NewMySQLStore(provider db.Provider) (*MySQLStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("db provider is required")
	}
	return &MySQLStore{provider: provider}, nil
}

func (s *MySQLStore) Save(ctx context.Context, log *model.SubmissionLog) error {
	if log == nil || log.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}
	payload, err := json.Marshal(log)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode log failed")
	}
	query := `
		INSERT INTO submission_logs (submission_id, payload, judged_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), judged_at = VALUES(judged_at)
	`
	if _, err := database.Exec(ctx, query, log.SubmissionID, string(payload), log.JudgedAt); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save log failed")
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, submissionID string) (*model.SubmissionLog, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}
	row := database.QueryRow(ctx, "SELECT payload FROM submission_logs WHERE submission_id = ? LIMIT 1", submissionID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.NotFound).WithMessage("submission log not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get log failed")
	}
	var log model.SubmissionLog
	if err := json.Unmarshal([]byte(payload), &log); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode log failed")
	}
	return &log, nil
}

func (s *MySQLStore) Delete(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}
	if _, err := database.Exec(ctx, "DELETE FROM submission_logs WHERE submission_id = ?", submissionID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "delete log failed")
	}
	return nil
}
