// Package runner orchestrates one browser test run.
//
// The main components are:
//   - Orchestrator: drives build, start, bundle, serve, browser run and report
//     in order, and maps the outcome to a process exit code
//   - teardownStack: releases every acquired resource in reverse acquisition
//     order, whichever step failed
//   - ProgressIndicator: narrates phase transitions while the run is in flight
//
// The orchestrator depends only on the narrow interfaces declared here, so
// each collaborator can be replaced by a fake in tests.
package runner
