package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleMedicalData(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.sessions.Get(ctx, id); err != nil {
		s.abortWithError(c, err)
		return
	}
	data, err := s.sessions.GetMedicalData(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MedicalDataResponse{Success: true, SessionID: id, MedicalData: *data})
}

func (s *Server) handleMedicalAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.sessions.Get(ctx, id); err != nil {
		s.abortWithError(c, err)
		return
	}
	alerts, err := s.sessions.ListAlerts(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, AlertsResponse{Success: true, SessionID: id, Count: len(alerts), Alerts: alerts})
}

func (s *Server) handleTriggerExtraction(c *gin.Context) {
	res, err := s.extraction.Trigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":                   true,
		"session_id":                res.SessionID,
		"message_id":                res.MessageID,
		"medical_extraction_status": res.Status,
		"message":                   "Medical extraction queued",
	})
}
