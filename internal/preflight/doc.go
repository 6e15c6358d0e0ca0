// Package preflight provides readiness checks for the directories and
// external APIs MaiChart depends on.
//
// The daemon runs RunAll once at startup and logs failures without refusing
// to start, since uploads and status reads work without the speech or LLM
// APIs. The CLI "maichart queue health" command prints the same results.
package preflight
