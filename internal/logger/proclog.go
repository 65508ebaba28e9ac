package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Stream tags written in front of every captured line.
const (
	TagStdout = "OUT"
	TagStderr = "ERR"
)

// Config describes where captured process output goes.
// One append-mode file per process id: Dir/<id>.log.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Path returns the log file path for a process id, or "" when logging
// is not configured.
func (c Config) Path(id string) string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, id+".log")
}

// Open creates the tagged log file for a process id. Returns (nil, nil)
// when no log directory is configured.
func (c Config) Open(id string) (*File, error) {
	path := c.Path(id)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, err
	}
	w := &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
	return &File{w: w, path: path}, nil
}

// File is the tagged, rotated output file for one supervised process.
// It is owned by the handle that opened it and closed exactly once.
type File struct {
	mu     sync.Mutex
	w      io.WriteCloser
	path   string
	closed bool
}

// WriteLine appends one captured line with a stream tag and timestamp:
//
//	[OUT] 2026-01-02T15:04:05.000Z encoded frame 118
func (f *File) WriteLine(tag, line string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	_, _ = fmt.Fprintf(f.w, "[%s] %s %s\n", tag, ts, line)
}

func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Close closes the underlying writer. Safe to call more than once.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.w.Close()
}

// Tail returns the last n lines of the current log file for id.
// A missing file yields an empty slice, not an error: the process may
// simply not have produced output yet.
func (c Config) Tail(id string, n int) ([]string, error) {
	path := c.Path(id)
	if path == "" || n <= 0 {
		return nil, nil
	}
	b, err := os.ReadFile(path) // #nosec G304 -- path is derived from validated id
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	s := strings.TrimRight(string(b), "\n")
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
