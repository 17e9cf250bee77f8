// Package logstore persists the per-submission judging records used
// for result inspection and re-judging.
package logstore

import (
	"context"

	"ojcore/internal/judge/model"
)

// Store is the submission log contract. Save is write-once per judging
// pass and replaces any previous record atomically on re-judge.
type Store interface {
	Save(ctx context.Context, log *model.SubmissionLog) error
	Get(ctx context.Context, submissionID string) (*model.SubmissionLog, error)
	Delete(ctx context.Context, submissionID string) error
}
