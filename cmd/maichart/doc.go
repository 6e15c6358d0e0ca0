// Command maichart runs the consultation audio service and talks to it.
//
// `maichart serve` starts the HTTP API with in-process workers, `maichart
// worker` runs queue consumers on their own, and the remaining commands are
// thin clients over the REST endpoints or local diagnostics.
package main
