package server

import (
	"path/filepath"
	"regexp"
	"strings"
)

// normalizeBasePath canonicalizes a mount prefix to "/prefix" form.
// Empty and bare "/" both mean the router mounts at the root.
func normalizeBasePath(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// Process ids end up in log file names, so they are restricted to a
// conservative charset with no traversal sequences.
var processIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func validProcessID(id string) bool {
	return processIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// validAbsPath accepts empty (the field is optional) or an absolute,
// already-clean path, so request fields cannot traverse the filesystem.
// A trailing separator is tolerated.
func validAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	return clean == p || clean == strings.TrimRight(p, string(filepath.Separator))
}
