package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"maichart/internal/services"
	"maichart/internal/session"
)

func (s *Server) handleStatus(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, FromSession(sess))
}

func (s *Server) handleTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	tr, err := s.sessions.GetTranscript(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TranscriptResponse{
		Success:    true,
		SessionID:  id,
		Transcript: FromTranscript(tr),
	})
}

func (s *Server) handleTranscriptDownload(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if sess.Status != session.StatusCompleted {
		s.abortWithError(c, session.ErrTranscriptNotFound)
		return
	}
	tr, err := s.sessions.GetTranscript(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="medical_note_%s.txt"`, short))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(tr.Text))
}

func (s *Server) handleNotes(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	notes, err := s.sessions.ListNotes(c.Request.Context(), limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := FromNotes(notes)
	c.JSON(http.StatusOK, NotesResponse{Success: true, Count: len(out), Notes: out})
}

func (s *Server) handleCleanup(c *gin.Context) {
	if err := s.coord.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session cleaned up successfully"})
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, services.Wrap(services.ErrValidation, "", "", "limit must be a non-negative integer", nil)
	}
	return limit, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
