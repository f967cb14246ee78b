// Package bundler turns the ordered spec sources into the single script the
// harness page loads. The work is delegated to an external bundler command.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/ethereum-optimism/infra/browser-acceptor/metrics"
	"github.com/ethereum-optimism/infra/browser-acceptor/procgroup"
)

// ArtifactName is the file name of the bundle inside the bundle directory.
// It never changes between runs so a new bundle always replaces the old one.
const ArtifactName = "spec.js"

// Placeholders substituted into the bundler command after it is split into words
const (
	PlaceholderOutput  = "{output}"
	PlaceholderOutDir  = "{outdir}"
	PlaceholderEntries = "{entries}"
)

// DefaultCommand invokes webpack in development mode. Entries are appended
// when the command has no {entries} word.
const DefaultCommand = "npx webpack --mode development --output-path {outdir} --output-filename " + ArtifactName

// EsbuildCommand bundles with esbuild into the same artifact
const EsbuildCommand = "npx esbuild {entries} --bundle --outfile={output}"

// BundleError reports that the external bundler failed
type BundleError struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *BundleError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("bundle failed with exit code %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("bundle failed: %v", e.Err)
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

// IsBundleError checks if the error is or wraps a BundleError
func IsBundleError(err error) bool {
	var target *BundleError
	return err != nil && errors.As(err, &target)
}

// Config holds configuration for creating a new Bundler
type Config struct {
	Log       log.Logger
	Command   string    // Bundler command line, split with shell quoting rules
	WorkDir   string    // Directory the bundler runs in; relative sources resolve against it
	OutputDir string    // Directory that receives ArtifactName
	Output    io.Writer // Where the bundler's stdout/stderr is copied
}

// Bundler runs the external bundler
type Bundler struct {
	log       log.Logger
	argv      []string
	workDir   string
	outputDir string
	output    io.Writer
}

// New parses the command and prepares the output directory path
func New(cfg Config) (*Bundler, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bundler command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("bundler command is empty")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("bundle output directory is required")
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}

	outDir, err := filepath.Abs(resolve(cfg.WorkDir, cfg.OutputDir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bundle output directory: %w", err)
	}

	return &Bundler{
		log:       cfg.Log,
		argv:      argv,
		workDir:   cfg.WorkDir,
		outputDir: outDir,
		output:    cfg.Output,
	}, nil
}

// ArtifactPath returns where the bundle is written
func (b *Bundler) ArtifactPath() string {
	return filepath.Join(b.outputDir, ArtifactName)
}

// Bundle runs the bundler over the spec sources, in order, and returns the
// path of the produced artifact
func (b *Bundler) Bundle(ctx context.Context, sources []string) (string, error) {
	if len(sources) == 0 {
		return "", &BundleError{Err: errors.New("no spec sources given")}
	}
	entries := make([]string, 0, len(sources))
	for _, src := range sources {
		p := resolve(b.workDir, src)
		info, err := os.Stat(p)
		if err != nil {
			return "", &BundleError{Err: fmt.Errorf("spec source %s: %w", src, err)}
		}
		if info.IsDir() {
			return "", &BundleError{Err: fmt.Errorf("spec source %s is a directory", src)}
		}
		entries = append(entries, entryArg(src))
	}

	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return "", &BundleError{Err: fmt.Errorf("failed to create bundle directory: %w", err)}
	}
	artifact := b.ArtifactPath()
	// A bundler that exits 0 without writing must not leave the previous run's bundle in place
	if err := os.Remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", &BundleError{Err: fmt.Errorf("failed to remove stale bundle: %w", err)}
	}

	argv := b.expand(entries)
	b.log.Info("Bundling specs", "specs", len(sources), "command", strings.Join(argv, " "), "output", artifact)
	start := time.Now()

	tail := &strings.Builder{}
	sink := io.MultiWriter(tail, b.output)
	cmd := procgroup.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = b.workDir
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		berr := &BundleError{Output: tail.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			berr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			berr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		b.log.Error("Bundler failed", "err", berr, "output", strings.TrimSpace(berr.Output))
		metrics.RecordErrorDetails("bundle", err)
		return "", berr
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return "", &BundleError{Output: tail.String(), Err: fmt.Errorf("bundler produced no artifact at %s: %w", artifact, err)}
	}

	b.log.Info("Specs bundled", "output", artifact, "bytes", info.Size(), "duration", time.Since(start))
	return artifact, nil
}

// expand substitutes the placeholders and appends the entries when the
// command does not place them itself
func (b *Bundler) expand(entries []string) []string {
	argv := make([]string, 0, len(b.argv)+len(entries))
	placed := false
	for _, arg := range b.argv {
		if arg == PlaceholderEntries {
			argv = append(argv, entries...)
			placed = true
			continue
		}
		arg = strings.ReplaceAll(arg, PlaceholderOutput, b.ArtifactPath())
		arg = strings.ReplaceAll(arg, PlaceholderOutDir, b.outputDir)
		argv = append(argv, arg)
	}
	if !placed {
		argv = append(argv, entries...)
	}
	return argv
}

// entryArg makes relative sources explicit so bundlers do not resolve them as packages
func entryArg(src string) string {
	if filepath.IsAbs(src) || strings.HasPrefix(src, "./") || strings.HasPrefix(src, "../") {
		return src
	}
	return "./" + src
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
