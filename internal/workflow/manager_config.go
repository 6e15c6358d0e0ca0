package workflow

import (
	"maichart/internal/jobs"
)

// ConfigureStages registers the concrete stage handlers the workflow will run.
// Worker counts come from the workflow config; a lane with zero workers is
// skipped so one process can host any subset of roles.
func (m *Manager) ConfigureStages(set StageSet) {
	candidates := []*laneState{
		{
			name:    "transcription",
			stream:  jobs.StreamAudio,
			group:   jobs.GroupAudio,
			handler: set.Transcription,
			workers: m.cfg.Workflow.TranscriptionWorkers,
		},
		{
			name:    "chunk-transcription",
			stream:  jobs.StreamChunks,
			group:   jobs.GroupChunks,
			handler: set.Chunks,
			workers: m.cfg.Workflow.ChunkWorkers,
		},
		{
			name:    "medical-extraction",
			stream:  jobs.StreamExtraction,
			group:   jobs.GroupExtraction,
			handler: set.Extraction,
			workers: m.cfg.Workflow.ExtractionWorkers,
		},
	}

	lanes := make([]*laneState, 0, len(candidates))
	for _, lane := range candidates {
		if lane.handler == nil || lane.workers <= 0 {
			continue
		}
		lanes = append(lanes, lane)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.mu.Unlock()
}
