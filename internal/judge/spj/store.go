package spj

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ojcore/internal/common/storage"
	appErr "ojcore/pkg/errors"
)

// Script is one stored checker.
type Script struct {
	ProblemID string
	Language  string
	Content   []byte
}

// ScriptStore persists checker scripts keyed by problem id.
type ScriptStore interface {
	Save(ctx context.Context, script Script) error
	Load(ctx context.Context, problemID string) (Script, error)
	Delete(ctx context.Context, problemID string) error
}

func scriptFileName(problemID, lang string) string {
	ext := ".py"
	if lang == LangCpp {
		ext = ".cpp"
	}
	return problemID + ext
}

// LocalStore keeps checker scripts as spj_scripts/<problem_id>.{py,cpp}
// on local disk.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the store rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("spj script dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create spj script dir failed: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, script Script) error {
	if script.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	// A problem holds at most one checker; drop the other extension.
	s.removeAll(script.ProblemID)
	path := filepath.Join(s.dir, scriptFileName(script.ProblemID, script.Language))
	if err := os.WriteFile(path, script.Content, 0644); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "write checker script failed")
	}
	return nil
}

func (s *LocalStore) Load(_ context.Context, problemID string) (Script, error) {
	if problemID == "" {
		return Script{}, appErr.ValidationError("problem_id", "required")
	}
	for _, lang := range []string{LangPython, LangCpp} {
		path := filepath.Join(s.dir, scriptFileName(problemID, lang))
		content, err := os.ReadFile(path)
		if err == nil {
			return Script{ProblemID: problemID, Language: lang, Content: content}, nil
		}
		if !os.IsNotExist(err) {
			return Script{}, appErr.Wrapf(err, appErr.InternalServerError, "read checker script failed")
		}
	}
	return Script{}, appErr.New(appErr.SPJNotFound)
}

func (s *LocalStore) Delete(_ context.Context, problemID string) error {
	if problemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if !s.removeAll(problemID) {
		return appErr.New(appErr.SPJNotFound)
	}
	return nil
}

func (s *LocalStore) removeAll(problemID string) bool {
	removed := false
	for _, lang := range []string{LangPython, LangCpp} {
		path := filepath.Join(s.dir, scriptFileName(problemID, lang))
		if err := os.Remove(path); err == nil {
			removed = true
		}
	}
	return removed
}

// ObjectStore keeps checker scripts in object storage under
// <prefix>/<problem_id>.{py,cpp}.
type ObjectStore struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

// NewObjectStore creates an object-storage backed script store.
func NewObjectStore(objStorage storage.ObjectStorage, bucket, prefix string) (*ObjectStore, error) {
	if objStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if prefix == "" {
		prefix = "spj_scripts"
	}
	return &ObjectStore{storage: objStorage, bucket: bucket, prefix: prefix}, nil
}

func (s *ObjectStore) key(problemID, lang string) string {
	return s.prefix + "/" + scriptFileName(problemID, lang)
}

func (s *ObjectStore) Save(ctx context.Context, script Script) error {
	if script.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	for _, lang := range []string{LangPython, LangCpp} {
		if lang == script.Language {
			continue
		}
		_ = s.storage.RemoveObject(ctx, s.bucket, s.key(script.ProblemID, lang))
	}
	reader := io.NopCloser(strings.NewReader(string(script.Content)))
	key := s.key(script.ProblemID, script.Language)
	if err := s.storage.PutObject(ctx, s.bucket, key, reader, int64(len(script.Content)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "store checker script failed")
	}
	return nil
}

func (s *ObjectStore) Load(ctx context.Context, problemID string) (Script, error) {
	if problemID == "" {
		return Script{}, appErr.ValidationError("problem_id", "required")
	}
	for _, lang := range []string{LangPython, LangCpp} {
		reader, err := s.storage.GetObject(ctx, s.bucket, s.key(problemID, lang))
		if err != nil {
			continue
		}
		content, readErr := io.ReadAll(reader)
		_ = reader.Close()
		if readErr != nil {
			return Script{}, appErr.Wrapf(readErr, appErr.InternalServerError, "read checker script failed")
		}
		return Script{ProblemID: problemID, Language: lang, Content: content}, nil
	}
	return Script{}, appErr.New(appErr.SPJNotFound)
}

func (s *ObjectStore) Delete(ctx context.Context, problemID string) error {
	if problemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	found := false
	for _, lang := range []string{LangPython, LangCpp} {
		key := s.key(problemID, lang)
		if _, err := s.storage.StatObject(ctx, s.bucket, key); err != nil {
			continue
		}
		found = true
		if err := s.storage.RemoveObject(ctx, s.bucket, key); err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "remove checker script failed")
		}
	}
	if !found {
		return appErr.New(appErr.SPJNotFound)
	}
	return nil
}
