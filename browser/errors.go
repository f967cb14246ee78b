package browser

import (
	"errors"
	"fmt"
	"time"
)

// BrowserLaunchError reports that no browser or page could be created
type BrowserLaunchError struct {
	Err error
}

func (e *BrowserLaunchError) Error() string {
	return fmt.Sprintf("failed to launch browser: %v", e.Err)
}

func (e *BrowserLaunchError) Unwrap() error {
	return e.Err
}

// TestTimeoutError reports that the completion flag was not set in time.
// It is a failed run, not a crash.
type TestTimeoutError struct {
	Timeout time.Duration
}

func (e *TestTimeoutError) Error() string {
	return fmt.Sprintf("tests did not complete within %s", e.Timeout)
}

// IsBrowserLaunchError checks if the error is or wraps a BrowserLaunchError
func IsBrowserLaunchError(err error) bool {
	var target *BrowserLaunchError
	return err != nil && errors.As(err, &target)
}

// IsTestTimeoutError checks if the error is or wraps a TestTimeoutError
func IsTestTimeoutError(err error) bool {
	var target *TestTimeoutError
	return err != nil && errors.As(err, &target)
}
