package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"maichart/internal/jobs"
	"maichart/internal/queue"
)

// queueNames labels each stream in /queue_status.
var queueNames = []struct {
	label  string
	stream string
}{
	{"direct_transcription", jobs.StreamAudio},
	{"chunk_transcription", jobs.StreamChunks},
	{"medical_extraction", jobs.StreamExtraction},
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	ctx := c.Request.Context()
	queues := make(map[string]queue.StreamStats, len(queueNames))
	for _, q := range queueNames {
		stats, err := s.queue.Stats(ctx, q.stream)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		queues[q.label] = stats
	}
	c.JSON(http.StatusOK, QueueStatusResponse{
		Success:   true,
		Queues:    queues,
		Timestamp: FormatTime(s.now()),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	resp := HealthResponse{Status: "healthy", Timestamp: FormatTime(s.now())}

	summary, err := s.sessions.Health(ctx)
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Sessions = summary

	dbHealth, err := s.queue.CheckHealth(ctx)
	resp.Queue = QueueHealth{
		Healthy:       err == nil && dbHealth.IntegrityCheck && len(dbHealth.MissingTables) == 0,
		TotalMessages: dbHealth.TotalMessages,
		MissingTables: dbHealth.MissingTables,
		Error:         dbHealth.Error,
	}
	if err != nil {
		resp.Queue.Error = err.Error()
	}
	if !resp.Queue.Healthy {
		resp.Status = "degraded"
	}

	if s.workflow != nil {
		wf := FromStatusSummary(s.workflow.Status(ctx))
		for _, h := range wf.StageHealth {
			if !h.Ready {
				resp.Status = "degraded"
			}
		}
		resp.Workflow = &wf
	}
	c.JSON(http.StatusOK, resp)
}
