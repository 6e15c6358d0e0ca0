package workflow

import (
	"log/slog"
	"time"

	"maichart/internal/stage"
)

// StageSet bundles the concrete handlers the manager orchestrates. A nil
// handler disables its lane.
type StageSet struct {
	Transcription stage.Handler
	Chunks        stage.Handler
	Extraction    stage.Handler
}

// DeliverySummary describes the most recent delivery a lane finished.
type DeliverySummary struct {
	Stage      string
	Stream     string
	MessageID  string
	Consumer   string
	Outcome    string
	Error      string
	FinishedAt time.Time
}

// Delivery outcomes recorded in DeliverySummary.
const (
	OutcomeAcked        = "acked"
	OutcomeFailed       = "failed"
	OutcomeReleased     = "released"
	OutcomeDeadLettered = "dead_lettered"
)

type laneState struct {
	name    string
	stream  string
	group   string
	handler stage.Handler
	workers int
	logger  *slog.Logger
}
