//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".zbxbridge", "config.yaml"),
		"/etc/zbxbridge/zbxbridge.yaml",
		"/etc/weewx/zbxbridge.yaml",
	}
}
