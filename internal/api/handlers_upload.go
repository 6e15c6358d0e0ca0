package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"maichart/internal/services"
	"maichart/internal/upload"
)

type initializeRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleUploadAudio(c *gin.Context) {
	header, err := c.FormFile("audio")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.abortWithError(c, services.Wrap(services.ErrTooLarge, "", "",
				"File too large. Maximum size: "+strconv.Itoa(s.cfg.Upload.MaxFileSizeMB)+"MB", nil))
			return
		}
		s.abortWithError(c, services.Wrap(services.ErrValidation, "", "", "No audio file provided", nil))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.abortWithError(c, services.Wrap(services.ErrValidation, "", "", "Unreadable audio file", err))
		return
	}
	defer file.Close()

	payload := upload.File{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	ctx := c.Request.Context()

	if !formBool(c, "is_streaming") {
		res, err := s.coord.UploadAudio(ctx, payload)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"id":             res.ID,
			"filename":       res.Filename,
			"size":           res.FileSize,
			"status":         res.Status,
			"recording_mode": res.RecordingMode,
			"message":        "Audio uploaded successfully and queued for transcription",
		})
		return
	}

	chunk, err := chunkFromForm(c, payload)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	res, err := s.coord.UploadChunk(ctx, chunk)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"session_id":     res.ID,
		"chunk_sequence": chunk.Sequence,
		"is_last_chunk":  chunk.IsLastChunk,
		"filename":       res.Filename,
		"size":           res.FileSize,
		"message":        "Streaming chunk uploaded successfully",
	})
}

func chunkFromForm(c *gin.Context, file upload.File) (upload.Chunk, error) {
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		return upload.Chunk{}, services.Wrap(services.ErrValidation, "", "", "session_id required for streaming uploads", nil)
	}
	raw := strings.TrimSpace(c.PostForm("chunk_sequence"))
	if raw == "" {
		return upload.Chunk{}, services.Wrap(services.ErrValidation, "", "", "chunk_sequence required for streaming uploads", nil)
	}
	seq, err := strconv.Atoi(raw)
	if err != nil || seq < 0 {
		return upload.Chunk{}, services.Wrap(services.ErrValidation, "", "", "chunk_sequence must be a non-negative integer", nil)
	}
	return upload.Chunk{
		File:        file,
		SessionID:   sessionID,
		Sequence:    seq,
		IsLastChunk: formBool(c, "is_last_chunk"),
	}, nil
}

func formBool(c *gin.Context, key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(c.PostForm(key)))
	return err == nil && value
}

func (s *Server) handleInitializeStreaming(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		s.abortWithError(c, services.Wrap(services.ErrValidation, "", "", "session_id is required", nil))
		return
	}
	sess, err := s.coord.InitializeStreamingSession(c.Request.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sess.ID,
		"status":     sess.Status,
		"message":    "Streaming session initialized",
	})
}
