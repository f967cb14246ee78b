package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/hashicorp/go-multierror"

	"github.com/ethereum-optimism/infra/browser-acceptor/reporting"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

const (
	BrowserLogFilename = "browser.log"
	BundlerLogFilename = "bundler.log"
)

// ResultSink is an interface for different ways of consuming test results
type ResultSink interface {
	// Consume processes the result of a run
	Consume(result *types.TestRunResult, runID string) error
	// Complete is called once the run is over
	Complete(runID string) error
}

// FileLogger owns the per-run log directory and the files inside it
type FileLogger struct {
	baseDir      string                // Root log directory
	logDir       string                // Directory for this run
	runID        string                // Current run ID
	mu           sync.Mutex            // Protects concurrent file operations
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	completed    bool
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) (int, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return 0, errors.New("async file is closed")
	}

	// Copy, the caller may reuse the slice
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return len(data), nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		_, err := af.file.Write(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if af.stopped {
		af.mu.Unlock()
		return nil
	}
	af.stopped = true
	close(af.queue)
	af.mu.Unlock()

	// Wait for all writes to complete
	af.wg.Wait()
	return af.file.Close()
}

// stripWriter removes ANSI escape sequences before writing
type stripWriter struct {
	w io.Writer
}

func (s stripWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(s.w, stripansi.Strip(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewFileLogger creates the run directory <baseDir>/testrun-<runID>
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := reporting.RunDir(baseDir, runID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", logDir, err)
	}

	return &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		runID:        runID,
		asyncWriters: make(map[string]*AsyncFile),
	}, nil
}

// AddSink registers a consumer for the run result
func (l *FileLogger) AddSink(sink ResultSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Writer returns an ANSI-stripping writer for a file in the run directory.
// Repeated calls with the same name share one file.
func (l *FileLogger) Writer(name string) (io.Writer, error) {
	af, err := l.getAsyncWriter(filepath.Join(l.logDir, safeFilename(name)))
	if err != nil {
		return nil, err
	}
	return stripWriter{w: af}, nil
}

// ProcessLogFilename returns the log file name for a managed role
func ProcessLogFilename(role types.Role) string {
	return string(role) + ".log"
}

func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.completed {
		return nil, fmt.Errorf("run %s already completed", l.runID)
	}
	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// LogResult hands the run result to every sink
func (l *FileLogger) LogResult(result *types.TestRunResult) error {
	l.mu.Lock()
	sinks := append([]ResultSink(nil), l.sinks...)
	l.mu.Unlock()

	var errs *multierror.Error
	for _, sink := range sinks {
		if err := sink.Consume(result, l.runID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Complete finalises the sinks and closes every open file. It is safe to
// call more than once.
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	if l.completed {
		l.mu.Unlock()
		return nil
	}
	l.completed = true
	sinks := append([]ResultSink(nil), l.sinks...)
	writers := l.asyncWriters
	l.asyncWriters = make(map[string]*AsyncFile)
	l.mu.Unlock()

	var errs *multierror.Error
	for _, sink := range sinks {
		if err := sink.Complete(l.runID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to complete sink: %w", err))
		}
	}
	for path, writer := range writers {
		if err := writer.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close %s: %w", path, err))
		}
	}
	return errs.ErrorOrNil()
}

// GetRunID returns the run ID this logger writes for
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetBaseDir returns the root log directory
func (l *FileLogger) GetBaseDir() string {
	return l.baseDir
}

// GetDirectory returns the directory of the current run
func (l *FileLogger) GetDirectory() string {
	return l.logDir
}

// GetSummaryFile returns the path of summary.log for the current run
func (l *FileLogger) GetSummaryFile() string {
	return filepath.Join(l.logDir, reporting.SummaryFilename)
}

var unsafeFilenameChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// safeFilename replaces characters that are unsafe in file names
func safeFilename(s string) string {
	return unsafeFilenameChars.Replace(s)
}
