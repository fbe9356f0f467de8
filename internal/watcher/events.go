package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

type FileEvent struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// Name is the base name of the file, which for the upload directory is the
// file id.
func (e FileEvent) Name() string {
	return filepath.Base(e.Path)
}

// Gone reports whether the file no longer exists under its old name.
func (e FileEvent) Gone() bool {
	return e.Type == EventRemove || e.Type == EventRename
}

type FilterConfig struct {
	IgnoreSuffixes []string
	IgnoreHidden   bool
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		IgnoreSuffixes: []string{".tmp", ".swp", "~"},
		IgnoreHidden:   true,
	}
}

func (fc FilterConfig) ShouldProcess(path string) bool {
	name := filepath.Base(path)
	if fc.IgnoreHidden && strings.HasPrefix(name, ".") {
		return false
	}
	for _, suffix := range fc.IgnoreSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}
