package handler

import (
	"errors"
	"net/http"
	"time"

	"go-baton/internal/api/dto"
	"go-baton/internal/connection"
	"go-baton/internal/domain"
	"go-baton/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	readLimit = 64 << 10
	pongWait  = 60 * time.Second
)

type Handler struct {
	service  *service.RunService
	manager  *connection.Manager
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

func New(svc *service.RunService, manager *connection.Manager, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		service: svc,
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes wires all endpoints onto the router. metricsHandler serves the
// prometheus registry.
func (h *Handler) Routes(r *gin.Engine, metricsHandler http.Handler) {
	api := r.Group("/api/v1")
	{
		api.POST("/tasks", h.SubmitTask)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/:id/cancel", h.CancelRun)
	}

	r.GET("/ws/agent/:caller_id", h.ServeWS)
	r.GET("/health", h.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
}

func (h *Handler) SubmitTask(c *gin.Context) {
	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.submitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.SubmitTaskResponse{RunID: runID.String()})
}

// submitError maps the synchronous error taxonomy onto status codes:
// routing failures and invalid pipelines are the caller's problem.
func (h *Handler) submitError(c *gin.Context, err error) {
	var pipeErr *domain.InvalidPipelineError
	switch {
	case errors.Is(err, domain.ErrNoCapableAgent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &pipeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	record, err := h.service.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) CancelRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	if err := h.service.Cancel(runID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found or already finished"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID.String(), "status": "cancelling"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"active_connections": h.manager.ActiveConnections(),
		"timestamp":          time.Now().UTC(),
	})
}

// ServeWS upgrades the request and runs the connection's read loop. Task
// submissions arriving on the socket are acknowledged with the run id;
// events stream back through the connection manager's write side.
func (h *Handler) ServeWS(c *gin.Context) {
	callerID := c.Param("caller_id")
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := h.manager.Register(callerID, ws)
	defer h.manager.Disconnect(conn)

	ws.SetReadLimit(readLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg dto.InboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "ping":
			conn.Pong()

		case "task":
			req := dto.SubmitTaskRequest{
				Kind:     msg.Kind,
				Payload:  msg.Payload,
				Hints:    msg.Hints,
				CallerID: callerID,
				Steps:    msg.Steps,
			}
			runID, err := h.service.Submit(c.Request.Context(), req)
			if err != nil {
				conn.Fail(err.Error())
				continue
			}
			conn.Ack(runID)

		case "cancel":
			runID, err := uuid.Parse(msg.RunID)
			if err != nil {
				conn.Fail("invalid run id")
				continue
			}
			if err := h.service.Cancel(runID); err != nil {
				conn.Fail(err.Error())
			}

		default:
			conn.Fail("unknown message type: " + msg.Type)
		}
	}
}
