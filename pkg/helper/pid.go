package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPIDPath is used when no pid file is configured
const DefaultPIDPath = "/var/run/mcp-edge.pid"

// GetPIDPath resolves the pid file location. Relative names are placed in the
// working directory when it exists.
func GetPIDPath(filename string) string {
	if filename == "" {
		return DefaultPIDPath
	}
	if filepath.IsAbs(filename) {
		return filename
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return DefaultPIDPath
	}
	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		return DefaultPIDPath
	}
	return abs
}

// WritePID writes the current process id into path
func WritePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPID reads a process id written by WritePID
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}
