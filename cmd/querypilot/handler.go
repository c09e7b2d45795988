package main

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/assist"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/observability"
)

// AssistantHandler exposes the run controller over HTTP.
type AssistantHandler struct {
	runner   *assist.Runner
	history  *history.Store
	upgrader websocket.Upgrader
}

func NewAssistantHandler(runner *assist.Runner, hist *history.Store) *AssistantHandler {
	return &AssistantHandler{
		runner:  runner,
		history: hist,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleStartRun accepts a natural-language request and launches a run.
func (h *AssistantHandler) HandleStartRun(c *gin.Context) {
	var req api.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	run, err := h.runner.Start(req.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Printf("▶️  Run %s started for request %.60q", run.ID, req.Request)
	c.JSON(http.StatusAccepted, api.StartRunResponse{RunID: run.ID, Status: "running"})
}

// HandleGetRun returns the current state of a run, including its event log.
func (h *AssistantHandler) HandleGetRun(c *gin.Context) {
	run, ok := h.runner.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found."})
		return
	}
	c.JSON(http.StatusOK, run.Snapshot())
}

// HandleCancelRun requests cooperative cancellation. The run stops at its
// next checkpoint; an in-flight model or query call is never interrupted.
func (h *AssistantHandler) HandleCancelRun(c *gin.Context) {
	run, ok := h.runner.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found."})
		return
	}
	run.Cancel()
	log.Printf("⏹️  Cancellation requested for run %s", run.ID)
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "status": "cancelling"})
}

// HandleRunEvents streams a run's events over a WebSocket until the run
// reaches a terminal state. One subscriber per run; the stream carries
// every event emitted since the run started.
func (h *AssistantHandler) HandleRunEvents(c *gin.Context) {
	run, ok := h.runner.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found."})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WARNING: WebSocket upgrade failed for run %s: %v", run.ID, err)
		return
	}
	defer conn.Close()

	for event := range run.Events() {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("WARNING: WebSocket write failed for run %s: %v", run.ID, err)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

// HandleListRuns returns the most recent finished runs.
func (h *AssistantHandler) HandleListRuns(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []api.RunSummary{}})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	runs, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read run history."})
		return
	}
	if runs == nil {
		runs = []api.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleHealthz reports liveness and build information.
func (h *AssistantHandler) HandleHealthz(c *gin.Context) {
	info := GetBuildInfo()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": info.Version,
		"commit":  info.GitCommit,
	})
}

// metricsMiddleware records request durations per route and status.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		observability.ObserveHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}
