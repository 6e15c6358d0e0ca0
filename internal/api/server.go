package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"maichart/internal/config"
	"maichart/internal/extraction"
	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/session"
	"maichart/internal/upload"
	"maichart/internal/workflow"
)

// multipartOverhead is the allowance above the upload cap for form fields
// and boundaries.
const multipartOverhead = 1 << 20

// WorkflowReporter exposes in-process worker diagnostics to /health.
type WorkflowReporter interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// Deps collects what the HTTP layer needs.
type Deps struct {
	Config      *config.Config
	Sessions    *session.Store
	Queue       *queue.Store
	Coordinator *upload.Coordinator
	Extraction  *extraction.Service
	// Workflow is nil when workers run in separate processes.
	Workflow WorkflowReporter
	Logger   *slog.Logger
}

// Server holds the gin engine and its dependencies.
type Server struct {
	cfg        *config.Config
	sessions   *session.Store
	queue      *queue.Store
	coord      *upload.Coordinator
	extraction *extraction.Service
	workflow   WorkflowReporter
	logger     *slog.Logger
	engine     *gin.Engine
	now        func() time.Time
}

// NewServer builds the router with every endpoint registered.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:        deps.Config,
		sessions:   deps.Sessions,
		queue:      deps.Queue,
		coord:      deps.Coordinator,
		extraction: deps.Extraction,
		workflow:   deps.Workflow,
		logger:     logging.NewComponentLogger(deps.Logger, "api"),
		now:        time.Now,
	}

	engine := gin.New()
	engine.MaxMultipartMemory = 32 << 20
	_ = engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery(), requestID(), requestLogger(s.logger))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.API.CORSAllowedOrigins,
		AllowMethods:     []string{"OPTIONS", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Not found"})
	})

	engine.POST("/upload_audio", s.limitBody(), s.handleUploadAudio)
	engine.POST("/initialize_streaming_session", s.handleInitializeStreaming)
	engine.GET("/status/:id", s.handleStatus)
	engine.GET("/transcript/:id", s.handleTranscript)
	engine.GET("/transcript/:id/download", s.handleTranscriptDownload)
	engine.GET("/medical_data/:id", s.handleMedicalData)
	engine.GET("/medical_alerts/:id", s.handleMedicalAlerts)
	engine.POST("/trigger_medical_extraction/:id", s.handleTriggerExtraction)
	engine.GET("/notes", s.handleNotes)
	engine.DELETE("/cleanup/:id", s.handleCleanup)
	engine.GET("/export/notes", s.handleExportNotes)
	engine.GET("/queue_status", s.handleQueueStatus)
	engine.GET("/health", s.handleHealth)

	s.engine = engine
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit := s.cfg.MaxUploadBytes(); limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
		}
		c.Next()
	}
}
