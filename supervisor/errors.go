package supervisor

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// ErrInvalidModulePath is returned when a module path could be used to
// smuggle extra arguments into the compiler invocation
var ErrInvalidModulePath = errors.New("invalid module path")

// BuildError reports that the compiler failed for a role
type BuildError struct {
	Role     types.Role
	Module   string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("build %s (%s) failed with exit code %d: %v", e.Role, e.Module, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("build %s (%s) failed: %v", e.Role, e.Module, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// ProcessSpawnError reports that a built binary could not be started
type ProcessSpawnError struct {
	Role types.Role
	Path string
	Err  error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Role, e.Path, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error {
	return e.Err
}

// NotReadyError reports that a started role never passed its readiness probe
type NotReadyError struct {
	Role types.Role
	Err  error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s not ready: %v", e.Role, e.Err)
}

func (e *NotReadyError) Unwrap() error {
	return e.Err
}

// IsBuildError checks if the error is or wraps a BuildError
func IsBuildError(err error) bool {
	var target *BuildError
	return err != nil && errors.As(err, &target)
}

// IsProcessSpawnError checks if the error is or wraps a ProcessSpawnError
func IsProcessSpawnError(err error) bool {
	var target *ProcessSpawnError
	return err != nil && errors.As(err, &target)
}

// IsNotReadyError checks if the error is or wraps a NotReadyError
func IsNotReadyError(err error) bool {
	var target *NotReadyError
	return err != nil && errors.As(err, &target)
}
