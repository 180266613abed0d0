package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/loiht2/assistant-runtime/backend/converter"
	"github.com/loiht2/assistant-runtime/backend/models"
	"github.com/loiht2/assistant-runtime/backend/orchestrator"
	"github.com/loiht2/assistant-runtime/backend/pool"
	"github.com/loiht2/assistant-runtime/backend/scheduler"
	"github.com/loiht2/assistant-runtime/backend/trading"
)

// Handler handles HTTP requests
type Handler struct {
	orch           *orchestrator.Orchestrator
	converter      *converter.Converter
	upgrader       websocket.Upgrader
	streamInterval time.Duration
}

// NewHandler creates a new handler instance
func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	interval := orch.Config().Training.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{
		orch:      orch,
		converter: converter.NewConverter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		streamInterval: interval,
	}
}

// Register mounts every route on r
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/training", h.GetTraining)
	r.POST("/training", h.PostTraining)
	r.GET("/training/stream", h.StreamTraining)
	r.GET("/jobs", h.GetJobs)
	r.POST("/jobs", h.PostJobs)
	r.GET("/trading", h.GetTrading)
	r.POST("/trading", h.PostTrading)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"status":      "healthy",
		"processes":   h.orch.Processes(),
		"autoTrading": h.orch.Trading().AutoTrading(),
	})
}

// GetTraining handles GET /training
func (h *Handler) GetTraining(c *gin.Context) {
	rec, err := h.orch.TrainingStatus(c.Query("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.TrainingResponse(rec))
}

// PostTraining handles POST /training
func (h *Handler) PostTraining(c *gin.Context) {
	var req models.TrainingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "No action specified", err)
		return
	}

	var (
		rec     models.StatusRecord
		changed bool
		err     error
		message string
	)
	switch req.Action {
	case "start":
		rec, changed, err = h.orch.StartTraining(c.Request.Context(), req.ID)
		message = "Training started"
		if !changed {
			message = "Training already running"
		}
	case "stop":
		rec, changed, err = h.orch.StopTraining(c.Request.Context(), req.ID)
		message = "Training stopped"
		if !changed {
			message = "Training was not running"
		}
	default:
		badRequest(c, "Unknown action: "+req.Action, nil)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	log.Info().Str("process", rec.ID).Str("action", req.Action).Bool("changed", changed).Msg(message)
	resp := h.converter.TrainingResponse(rec)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    message,
		"id":         resp.ID,
		"isTraining": resp.IsTraining,
		"progress":   resp.Progress,
		"status":     resp.Status,
		"phase":      resp.Phase,
		"updatedAt":  resp.UpdatedAt,
	})
}

// GetJobs handles GET /jobs
func (h *Handler) GetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobs":    h.orch.Jobs(c.Request.Context()),
	})
}

// PostJobs handles POST /jobs
func (h *Handler) PostJobs(c *gin.Context) {
	var req models.JobActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "No action specified", err)
		return
	}

	switch req.Action {
	case "run":
		if req.JobID == "" {
			badRequest(c, "jobId is required", nil)
			return
		}
		job, err := h.orch.RunJob(c.Request.Context(), req.JobID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Job " + job.Name + " executed",
			"job":     job,
		})
	case "check":
		ran := h.orch.CheckJobs(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Due jobs checked",
			"ran":     ran,
		})
	default:
		badRequest(c, "Unknown action: "+req.Action, nil)
	}
}

// statusCode maps caller-facing errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownProcess),
		errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, trading.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, trading.ErrInvalidOrder),
		errors.Is(err, pool.ErrInvalidCapacity):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrJobRunning),
		errors.Is(err, scheduler.ErrInvalidInterval),
		errors.Is(err, pool.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, pool.ErrNotReady):
		return http.StatusPreconditionFailed
	case errors.Is(err, pool.ErrClosed),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(code, gin.H{
		"success": false,
		"message": err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{
		"success": false,
		"message": message,
	}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
