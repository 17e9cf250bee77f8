package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

const (
	logsFileName           = "submission_logs.json"
	compressedLogsFileName = "submission_logs.json.zst"
)

// FileStore keeps all logs in one JSON map keyed by submission id,
// written atomically via temp file + rename. With compression enabled
// the file is a single zstd frame; large test suites produce big
// input/output echoes and compress well.
type FileStore struct {
	path     string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder

	mu   sync.Mutex
	logs map[string]*model.SubmissionLog
}

// NewFileStore opens (or creates) the log file under dataDir.
func NewFileStore(dataDir string, compress bool) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir failed: %w", err)
	}
	name := logsFileName
	if compress {
		name = compressedLogsFileName
	}
	store := &FileStore{
		path:     filepath.Join(dataDir, name),
		compress: compress,
		logs:     make(map[string]*model.SubmissionLog),
	}
	if compress {
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("init zstd encoder failed: %w", err)
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("init zstd decoder failed: %w", err)
		}
		store.encoder = encoder
		store.decoder = decoder
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) Save(_ context.Context, log *model.SubmissionLog) error {
	if log == nil || log.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *log
	s.logs[log.SubmissionID] = &cloned
	return s.persistLocked()
}

func (s *FileStore) Get(_ context.Context, submissionID string) (*model.SubmissionLog, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[submissionID]
	if !ok {
		return nil, appErr.New(appErr.NotFound).WithMessage("submission log not found")
	}
	cloned := *log
	return &cloned, nil
}

func (s *FileStore) Delete(_ context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[submissionID]; !ok {
		return nil
	}
	delete(s.logs, submissionID)
	return s.persistLocked()
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read log store failed: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if s.compress {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress log store failed: %w", err)
		}
	}
	if err := json.Unmarshal(data, &s.logs); err != nil {
		return fmt.Errorf("decode log store failed: %w", err)
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	data, err := json.Marshal(s.logs)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode logs failed")
	}
	if s.compress {
		data = s.encoder.EncodeAll(data, nil)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-logs-*")
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create temp log file failed")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return appErr.Wrapf(err, appErr.InternalServerError, "write logs failed")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return appErr.Wrapf(err, appErr.InternalServerError, "close temp log file failed")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return appErr.Wrapf(err, appErr.InternalServerError, "replace log file failed")
	}
	return nil
}
