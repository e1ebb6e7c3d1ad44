package testutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger writing to the test log.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: NewTestLogger(t),
	}
}

// NewTestLogger returns a debug-level logger whose output goes through t.Log,
// so it only shows for failing or verbose tests. A nil t discards output.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if t == nil {
		logger.SetOutput(io.Discard)
		return logger
	}
	logger.SetOutput(testWriter{t})
	return logger
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// LoadFile reads a file relative to the project root (the directory holding go.mod)
func LoadFile(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	fullPath := filepath.Join(projectRoot, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}

	return string(data), nil
}
