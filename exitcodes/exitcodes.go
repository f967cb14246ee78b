// Package exitcodes defines the standard exit codes used by browser-acceptor.
package exitcodes

// Exit code constants used by browser-acceptor
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every spec passes
// * TestFailure (1): Used when a spec fails, the harness reports an incomplete run or the tests do not finish in time
// * RuntimeErr (2): Used for runtime errors such as build, startup, bundling or browser failures and interruption
const (
	Success     = 0 // All specs pass
	TestFailure = 1 // Spec failures or completion timeout
	RuntimeErr  = 2 // Runtime errors
)
