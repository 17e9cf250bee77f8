package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ojcore/internal/common/db"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

// MySQLRepository is the database-backed alternative to the file store,
// selected by config. Problems and languages are stored as JSON
// payloads; submissions get first-class columns for filtering.
type MySQLRepository struct {
	provider db.Provider
}

// NewMySQLRepository creates the repository on a database provider.
func NewMySQLRepository(provider db.Provider) (*MySQLRepository, error) {
	if provider == nil {
		return nil, fmt.Errorf("db provider is required")
	}
	return &MySQLRepository{provider: provider}, nil
}

func (r *MySQLRepository) database() (db.Database, error) {
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}
	return database, nil
}

func (r *MySQLRepository) CreateSubmission(ctx context.Context, submission *model.Submission) error {
	if submission == nil || submission.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	database, err := r.database()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO submissions
			(submission_id, user_id, problem_id, language, code, status, score, counts, submit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = database.Exec(ctx, query,
		submission.SubmissionID, submission.UserID, submission.ProblemID,
		submission.Language, submission.Code, string(submission.Status),
		submission.Score, submission.Counts, submission.SubmitTime,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.New(appErr.RecordAlreadyExists).WithDetail("submission_id", submission.SubmissionID)
		}
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "insert submission failed")
	}
	return nil
}

func (r *MySQLRepository) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	if id == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	database, err := r.database()
	if err != nil {
		return nil, err
	}
	query := `
		SELECT submission_id, user_id, problem_id, language, code, status, score, counts, submit_time
		FROM submissions
		WHERE submission_id = ?
		LIMIT 1
	`
	row := database.QueryRow(ctx, query, id)
	var submission model.Submission
	var status string
	if err := row.Scan(
		&submission.SubmissionID, &submission.UserID, &submission.ProblemID,
		&submission.Language, &submission.Code, &status,
		&submission.Score, &submission.Counts, &submission.SubmitTime,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	submission.Status = model.SubmissionStatus(status)
	return &submission, nil
}

func (r *MySQLRepository) UpdateSubmission(ctx context.Context, id string, update SubmissionUpdate) error {
	if id == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *update.Score)
	}
	if update.Counts != nil {
		sets = append(sets, "counts = ?")
		args = append(args, *update.Counts)
	}
	if len(sets) == 0 {
		return nil
	}
	database, err := r.database()
	if err != nil {
		return err
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE submissions SET %s WHERE submission_id = ?", strings.Join(sets, ", "))
	res, err := database.Exec(ctx, query, args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return appErr.New(appErr.SubmissionNotFound)
	}
	return nil
}

func (r *MySQLRepository) ListSubmissions(ctx context.Context, filter ListFilter) ([]*model.Submission, int, error) {
	if filter.UserID == "" && filter.ProblemID == "" {
		return nil, 0, appErr.New(appErr.InvalidParams).WithMessage("user_id or problem_id is required")
	}
	database, err := r.database()
	if err != nil {
		return nil, 0, err
	}

	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ProblemID != "" {
		where = append(where, "problem_id = ?")
		args = append(args, filter.ProblemID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := strings.Join(where, " AND ")

	var total int
	countRow := database.QueryRow(ctx, "SELECT COUNT(*) FROM submissions WHERE "+clause, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "count submissions failed")
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`
		SELECT submission_id, user_id, problem_id, language, code, status, score, counts, submit_time
		FROM submissions
		WHERE %s
		ORDER BY submit_time DESC, submission_id
		LIMIT ? OFFSET ?
	`, clause)
	rows, err := database.Query(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	defer rows.Close()

	out := make([]*model.Submission, 0, pageSize)
	for rows.Next() {
		var submission model.Submission
		var status string
		if err := rows.Scan(
			&submission.SubmissionID, &submission.UserID, &submission.ProblemID,
			&submission.Language, &submission.Code, &status,
			&submission.Score, &submission.Counts, &submission.SubmitTime,
		); err != nil {
			return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
		}
		submission.Status = model.SubmissionStatus(status)
		out = append(out, &submission)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions failed")
	}
	return out, total, nil
}

func (r *MySQLRepository) GetProblem(ctx context.Context, id string) (*model.Problem, error) {
	if id == "" {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	database, err := r.database()
	if err != nil {
		return nil, err
	}
	row := database.QueryRow(ctx, "SELECT payload FROM problems WHERE problem_id = ? LIMIT 1", id)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.ProblemNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	var problem model.Problem
	if err := json.Unmarshal([]byte(payload), &problem); err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode problem failed")
	}
	if problem.ID == "" {
		problem.ID = id
	}
	return &problem, nil
}

func (r *MySQLRepository) SaveProblem(ctx context.Context, problem *model.Problem) error {
	if problem == nil || problem.ID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	database, err := r.database()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(problem)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode problem failed")
	}
	query := `
		INSERT INTO problems (problem_id, payload) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)
	`
	if _, err := database.Exec(ctx, query, problem.ID, string(payload)); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save problem failed")
	}
	return nil
}

func (r *MySQLRepository) GetLanguage(ctx context.Context, name string) (*model.Language, error) {
	if name == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	database, err := r.database()
	if err != nil {
		return nil, err
	}
	row := database.QueryRow(ctx, "SELECT payload FROM languages WHERE name = ? LIMIT 1", strings.ToLower(name))
	var payload string
	if err := row.Scan(&payload); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.LanguageUnknown)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get language failed")
	}
	var language model.Language
	if err := json.Unmarshal([]byte(payload), &language); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode language failed")
	}
	return &language, nil
}

func (r *MySQLRepository) SaveLanguage(ctx context.Context, language *model.Language) error {
	if language == nil || language.Name == "" {
		return appErr.ValidationError("language", "required")
	}
	database, err := r.database()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(language)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode language failed")
	}
	query := `
		INSERT INTO languages (name, payload) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)
	`
	if _, err := database.Exec(ctx, query, strings.ToLower(language.Name), string(payload)); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save language failed")
	}
	return nil
}
