package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"maichart/internal/services"
	"maichart/internal/session"
)

func (s *Server) handleExportNotes(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format != "json" && format != "yaml" {
		s.abortWithError(c, services.Wrap(services.ErrValidation, "", "", "format must be json or yaml", nil))
		return
	}
	doc, err := s.buildExport(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	stamp := s.now().UTC().Format("20060102_150405")

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	contentType := "application/json"
	if format == "yaml" {
		if body, err = jsonToYAML(body); err != nil {
			s.abortWithError(c, err)
			return
		}
		contentType = "application/yaml"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="medical_notes_%s.%s"`, stamp, format))
	c.Data(http.StatusOK, contentType, body)
}

func (s *Server) buildExport(c *gin.Context) (ExportDocument, error) {
	ctx := c.Request.Context()
	notes, err := s.sessions.ListNotes(ctx, 0)
	if err != nil {
		return ExportDocument{}, err
	}
	out := make([]ExportedNote, 0, len(notes))
	for _, note := range FromNotes(notes) {
		entry := ExportedNote{Note: note, MedicalAlerts: []session.MedicalAlert{}}
		data, err := s.sessions.GetMedicalData(ctx, note.SessionID)
		switch {
		case err == nil:
			entry.MedicalData = data
		case !isNotFound(err):
			return ExportDocument{}, err
		}
		alerts, err := s.sessions.ListAlerts(ctx, note.SessionID)
		if err != nil {
			return ExportDocument{}, err
		}
		entry.MedicalAlerts = alerts
		out = append(out, entry)
	}
	return ExportDocument{
		ExportedAt: FormatTime(s.now()),
		Count:      len(out),
		Notes:      out,
	}, nil
}

// jsonToYAML re-encodes a JSON document as YAML so both formats share the
// snake_case keys declared on the JSON types.
func jsonToYAML(body []byte) ([]byte, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode yaml export: %w", err)
	}
	return out, nil
}
