package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"agent-core/internal/condition"
	"agent-core/internal/events"
	"agent-core/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createActionRequest struct {
	OwnerID   string              `json:"owner_id" binding:"required"`
	Kind      string              `json:"kind" binding:"required"`
	Condition condition.Condition `json:"condition" binding:"required"`
	Params    condition.Params    `json:"params"`
	Rationale string              `json:"rationale"`
	ExpiresIn string              `json:"expires_in"` // Go duration, e.g. "24h"
}

type enqueueRequest struct {
	OwnerID    string         `json:"owner_id" binding:"required"`
	Kind       string         `json:"kind" binding:"required"`
	Priority   int            `json:"priority"`
	Instrument string         `json:"instrument" binding:"required"`
	Side       string         `json:"side" binding:"required"`
	Size       *float64       `json:"size"`
	Price      *float64       `json:"price"`
	Rationale  string         `json:"rationale"`
	ExpiresIn  string         `json:"expires_in"`
	Metadata   map[string]any `json:"metadata"`
}

type agentView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Handle         string    `json:"handle,omitempty"`
	Style          string    `json:"style,omitempty"`
	Instruments    []string  `json:"instruments"`
	MaxPositionUSD float64   `json:"max_position_usd"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

// parseExpiry resolves an optional duration string into an absolute bound.
func parseExpiry(expiresIn string) (*time.Time, error) {
	if expiresIn == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(expiresIn)
	if err != nil {
		return nil, err
	}
	t := time.Now().Add(d)
	return &t, nil
}

// addAction registers a new conditional action for an agent.
func (s *Server) addAction(c *gin.Context) {
	var req createActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if _, ok := s.Roster.Get(req.OwnerID); !ok {
		respondError(c, http.StatusBadRequest, "unknown owner_id")
		return
	}

	expiresAt, err := parseExpiry(req.ExpiresIn)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid expires_in duration")
		return
	}

	a := condition.Action{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Kind:      condition.Kind(strings.ToLower(req.Kind)),
		Condition: req.Condition,
		Params:    req.Params,
		Rationale: req.Rationale,
		ExpiresAt: expiresAt,
	}
	if err := s.Registry.Create(c.Request.Context(), a); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	created, _ := s.Registry.Get(a.ID)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"action":  created,
	})
}

// cancelAction cancels a pending conditional action.
func (s *Server) cancelAction(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.Registry.Get(id); !ok {
		respondError(c, http.StatusNotFound, "action not found")
		return
	}
	if err := s.Registry.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// listPendingActions returns every pending conditional action.
func (s *Server) listPendingActions(c *gin.Context) {
	actions := s.Registry.ListPending()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"actions": actions,
		"count":   len(actions),
	})
}

// listAgentActions returns one agent's conditional actions, optionally
// filtered by status.
func (s *Server) listAgentActions(c *gin.Context) {
	ownerID := c.Param("id")
	status := condition.Status(c.Query("status"))

	actions := s.Registry.ListByOwner(ownerID, status)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"actions": actions,
		"count":   len(actions),
	})
}

// listAgents returns the roster without credentials.
func (s *Server) listAgents(c *gin.Context) {
	all := s.Roster.All()
	views := make([]agentView, 0, len(all))
	for _, a := range all {
		views = append(views, agentView{
			ID:             a.ID,
			Name:           a.Name,
			Handle:         a.Handle,
			Style:          a.Style,
			Instruments:    a.Instruments,
			MaxPositionUSD: a.MaxPositionUSD,
			Active:         a.Active,
			CreatedAt:      a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agents": views})
}

// enqueueAction adds a decided intent to the throttled queue.
func (s *Server) enqueueAction(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if _, ok := s.Roster.Get(req.OwnerID); !ok {
		respondError(c, http.StatusBadRequest, "unknown owner_id")
		return
	}

	priority := queue.Priority(req.Priority)
	if priority < queue.PriorityCritical || priority > queue.PriorityLow {
		priority = queue.PriorityNormal
	}
	expiresAt, err := parseExpiry(req.ExpiresIn)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid expires_in duration")
		return
	}

	a := queue.Action{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Kind:       queue.Kind(strings.ToLower(req.Kind)),
		Priority:   priority,
		Instrument: req.Instrument,
		Side:       strings.ToLower(req.Side),
		Size:       req.Size,
		Price:      req.Price,
		Rationale:  req.Rationale,
		ExpiresAt:  expiresAt,
		Metadata:   req.Metadata,
	}
	added, err := s.Queue.Add(c.Request.Context(), a)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !added {
		respondError(c, http.StatusConflict, "duplicate action already queued")
		return
	}

	if s.Bus != nil {
		s.Bus.Publish(events.EventActionQueued, a)
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "action": a})
}

// queueStats summarizes the queue for operators.
func (s *Server) queueStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   s.Queue.GetStats(),
	})
}

// clearOwnerQueue removes every queued action for an owner.
func (s *Server) clearOwnerQueue(c *gin.Context) {
	owner := c.Param("owner")
	removed := s.Queue.ClearOwner(c.Request.Context(), owner)
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// listExecutions returns recent execution records.
func (s *Server) listExecutions(c *gin.Context) {
	if s.Queries == nil {
		respondError(c, http.StatusServiceUnavailable, "persistence not available")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := s.Queries.ListExecutions(c.Request.Context(), c.Query("owner"), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"executions": recs,
		"count":      len(recs),
	})
}

// cleanup sweeps terminal conditional actions and aged execution rows.
func (s *Server) cleanup(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("retention_days", "7"))
	if err != nil || days <= 0 {
		respondError(c, http.StatusBadRequest, "invalid retention_days")
		return
	}
	retention := time.Duration(days) * 24 * time.Hour

	ctx := c.Request.Context()
	removed := s.Registry.Sweep(ctx, retention)

	var executions int64
	if s.Queries != nil {
		n, err := s.Queries.DeleteExecutionsBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		executions = n
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"removed_actions":    removed,
		"removed_executions": executions,
	})
}

// systemStatus reports the coordinator's runtime status.
func (s *Server) systemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  s.Coord.Status(),
	})
}

// getMetrics reports the engine metrics snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	resp := gin.H{
		"success": true,
		"metrics": s.Metrics.GetSnapshot(),
	}
	if s.Bus != nil {
		resp["events_dropped"] = s.Bus.Dropped()
		resp["event_subscribers"] = s.Bus.SubscriberCount()
	}
	c.JSON(http.StatusOK, resp)
}
