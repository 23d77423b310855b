package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/auth"
	"github.com/example/liveness-check/internal/liveness"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/poseextractor"
	"github.com/example/liveness-check/internal/repository"
	"github.com/example/liveness-check/internal/usecase"
)

// MaxFrameSize caps the JSON body of a process-frame request.
const MaxFrameSize = 4 << 20

// VerdictReader serves recorded verdicts and their aggregates.
type VerdictReader interface {
	GetVerdict(ctx context.Context, sessionID string) (*usecase.VerdictView, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Dependencies are the collaborators the HTTP layer needs. Extractor may be
// nil, in which case frames must carry a client-computed pose.
type Dependencies struct {
	Engine    *usecase.LivenessEngine
	Verdicts  VerdictReader
	Extractor poseextractor.Extractor
	Logger    *zap.Logger
}

type processFrameRequest struct {
	SessionID string               `json:"session_id"`
	Image     string               `json:"image"`
	Pose      *liveness.PoseSignal `json:"pose"`
}

type handler struct {
	Dependencies
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything under
// /api requires authMiddleware.
func RegisterRoutes(router *gin.Engine, deps Dependencies, authMiddleware gin.HandlerFunc) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{Dependencies: deps, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	api := router.Group("/api", authMiddleware)
	api.POST("/start-verification", h.startVerification)
	api.POST("/process-frame", h.processFrame)
	api.GET("/session-status/:id", h.sessionStatus)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.GET("/verdicts/:id", h.verdict)
	api.GET("/metrics/summary", h.metricsSummary)
}

func (h *handler) startVerification(c *gin.Context) {
	subject, _ := auth.SubjectFromContext(c.Request.Context())
	sessionID := h.Engine.CreateSession(subject)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
		"message":    "Verification session started",
	})
}

func (h *handler) processFrame(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFrameSize)

	var req processFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || (req.Image == "" && req.Pose == nil) {
		fail(c, http.StatusBadRequest, "Missing session_id or image data")
		return
	}

	pose := req.Pose
	if pose == nil {
		subject, _ := auth.SubjectFromContext(c.Request.Context())
		pose = h.extractPose(c.Request.Context(), subject, req.SessionID, req.Image)
	}

	result, err := h.Engine.ProcessFrame(req.SessionID, pose)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// extractPose returns nil when the frame cannot be decoded or the detector
// fails; the engine counts such frames as having no face.
func (h *handler) extractPose(ctx context.Context, subject, sessionID, image string) *liveness.PoseSignal {
	opLogger := logging.WithOperation(h.logger, "handlers.extract_pose", sessionID)

	frame, err := poseextractor.DecodeFrame(image)
	if err != nil {
		opLogger.Warn("could not decode frame", zap.Error(err))
		return nil
	}
	if h.Extractor == nil {
		opLogger.Warn("no pose extractor configured")
		return nil
	}
	pose, err := h.Extractor.Extract(ctx, subject, frame)
	if err != nil {
		opLogger.Warn("pose extraction failed", zap.Error(err))
		return nil
	}
	return pose
}

func (h *handler) sessionStatus(c *gin.Context) {
	status, err := h.Engine.GetStatus(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

func (h *handler) deleteSession(c *gin.Context) {
	if err := h.Engine.DeleteSession(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) verdict(c *gin.Context) {
	if h.Verdicts == nil {
		fail(c, http.StatusServiceUnavailable, "verdict storage unavailable")
		return
	}
	view, err := h.Verdicts.GetVerdict(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
}

func (h *handler) metricsSummary(c *gin.Context) {
	if h.Verdicts == nil {
		fail(c, http.StatusServiceUnavailable, "verdict storage unavailable")
		return
	}
	summary, err := h.Verdicts.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
}

func (h *handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, liveness.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "Invalid session ID")
	case errors.Is(err, repository.ErrVerdictNotFound):
		fail(c, http.StatusNotFound, "verdict not found")
	case errors.Is(err, liveness.ErrInvalidPoseSignal):
		fail(c, http.StatusUnprocessableEntity, "invalid pose signal")
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}
