// Package spj compiles and executes problem-supplied checker scripts
// and screens checker uploads at the boundary.
package spj

import (
	"path/filepath"
	"strings"

	appErr "ojcore/pkg/errors"
)

// Checker languages.
const (
	LangPython = "python"
	LangCpp    = "cpp"
)

// allowedExtensions maps accepted upload extensions onto checker
// languages.
var allowedExtensions = map[string]string{
	".py":  LangPython,
	".cpp": LangCpp,
}

// dangerousCalls are rejected anywhere in an uploaded checker,
// case-insensitively. Checkers are authored by trusted problem-setters
// but still pass this screen.
var dangerousCalls = []string{
	"eval(", "exec(", "os.system(", "subprocess.call(", "subprocess.run(",
}

// Screen validates a checker upload. It returns the checker language on
// success and a rejection error otherwise. Rejected uploads never reach
// the runner.
func Screen(filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	lang, ok := allowedExtensions[ext]
	if !ok {
		return "", appErr.Newf(appErr.SPJUploadRejected, "unsupported checker extension: %s", ext)
	}
	lowered := strings.ToLower(string(content))
	for _, call := range dangerousCalls {
		if strings.Contains(lowered, call) {
			return "", appErr.Newf(appErr.SPJUploadRejected, "checker contains dangerous call: %s", strings.TrimSuffix(call, "("))
		}
	}
	return lang, nil
}
