package logging

import (
	"bytes"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
)

// maxPendingLine bounds how much of an unterminated line is buffered
const maxPendingLine = 16 * 1024

// LineWriter forwards each complete line written to it to a logger.
// Child process output is relayed through it so the operator sees server
// and gateway output interleaved with the orchestrator's own logs.
type LineWriter struct {
	log     log.Logger
	source  string
	mu      sync.Mutex
	pending bytes.Buffer
}

// NewLineWriter creates a LineWriter tagging every line with source
func NewLineWriter(logger log.Logger, source string) *LineWriter {
	return &LineWriter{log: logger, source: source}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	for {
		line, err := w.pending.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.pending.Reset()
			w.pending.WriteString(line)
			break
		}
		w.emit(line)
	}
	if w.pending.Len() > maxPendingLine {
		w.emit(w.pending.String())
		w.pending.Reset()
	}
	return len(p), nil
}

// Flush logs any buffered partial line
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Len() > 0 {
		w.emit(w.pending.String())
		w.pending.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimRight(stripansi.Strip(line), "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.log.Info(line, "source", w.source)
}
