// Package logging builds the per-component loggers used across the server.
//
// Every component gets a standard library *log.Logger with a bracketed
// prefix ("[server] ", "[sync] ", ...). All of them share one sink: stderr,
// or a size-rotated file when a path is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sink.
type Options struct {
	// File is the log file path. Empty means stderr.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Sink is the shared destination for all component loggers.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	rotate *lumberjack.Logger
}

// Open creates the sink described by opts.
func Open(opts Options) (*Sink, error) {
	if opts.File == "" {
		return &Sink{w: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &Sink{w: lj, rotate: lj}, nil
}

// Writer returns the sink's writer, for libraries that want an io.Writer.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Logger returns a logger for component, e.g. Logger("sync") logs with the
// "[sync] " prefix.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// File reports the log file path, or "" when logging to stderr.
func (s *Sink) File() string {
	if s.rotate == nil {
		return ""
	}
	return s.rotate.Filename
}

// Rotate closes the current log file and starts a new one. No-op on stderr.
func (s *Sink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotate == nil {
		return nil
	}
	return s.rotate.Rotate()
}

// Close releases the log file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotate == nil {
		return nil
	}
	return s.rotate.Close()
}
