package helper

import (
	"os"
	"path/filepath"
)

// SystemConfigDir is the last directory searched for configuration files
const SystemConfigDir = "/etc/mcp-edge"

// GetCfgPath resolves a configuration file name.
//
// Absolute paths are returned unchanged. Relative names are looked up in the
// working directory, then in ./configs, and finally under SystemConfigDir.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	wd, err := os.Getwd()
	if err == nil && wd != "" {
		for _, candidate := range []string{
			filepath.Join(wd, filename),
			filepath.Join(wd, "configs", filename),
		} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return filepath.Join(SystemConfigDir, filename)
}
