// Package daemon coordinates the long-running `maichart serve` process.
//
// It wires the HTTP API, the in-process workflow lanes, the watch-folder
// ingester and the cleanup janitor into a single lifecycle with flock-based
// locking so only one API process owns a data directory. Standalone
// `maichart worker` processes do not take the lock; they share the queue
// through consumer groups.
//
// Keep orchestration logic here: request handling lives in internal/api and
// per-message work lives in the stage packages.
package daemon
