// internal/api/handlers.go
// Fetch, scoring, history and admin handlers.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"brickradar/internal/service"
	"brickradar/internal/sources"
	"brickradar/internal/store"

	"github.com/gin-gonic/gin"
)

// FetchRequest names the sets a batch operates on. Sets may arrive as a list
// or as free-form text (commas or newlines); the list wins when both are set.
type FetchRequest struct {
	Sets  []string `json:"sets"`
	Input string   `json:"input"`
}

func (r *FetchRequest) setList() []string {
	if len(r.Sets) > 0 {
		return r.Sets
	}
	return sources.ParseSetInput(r.Input)
}

// HistoryResponse carries the persisted rows plus the column order the
// source's table renders with. An empty window still answers with the column
// schema.
type HistoryResponse struct {
	Source  string             `json:"source"`
	Columns []string           `json:"columns"`
	Rows    []store.HistoryRow `json:"rows"`
}

// fetchSource runs a fetch batch against one upstream source.
// POST /api/v1/fetch/:source
func (s *Server) fetchSource(c *gin.Context) {
	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	sets := req.setList()
	if len(sets) == 0 {
		badRequest(c, "no set numbers provided")
		return
	}

	var (
		res *service.BatchResult
		err error
	)
	switch c.Param("source") {
	case service.SourceBrickLink:
		res, err = s.svc.FetchBrickLink(c.Request.Context(), sets)
	case service.SourceBrickSet:
		res, err = s.svc.FetchBrickSet(c.Request.Context(), sets)
	case service.SourceBrickEconomy:
		res, err = s.svc.FetchBrickEconomy(c.Request.Context(), sets)
	default:
		badRequest(c, "unknown source: "+c.Param("source"))
		return
	}
	if err != nil {
		s.batchError(c, err)
		return
	}

	success(c, res)
}

// computeScores runs the scoring batch.
// POST /api/v1/scores
func (s *Server) computeScores(c *gin.Context) {
	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	sets := req.setList()
	if len(sets) == 0 {
		badRequest(c, "no set numbers provided")
		return
	}

	res, err := s.svc.ComputeScores(c.Request.Context(), sets)
	if err != nil {
		s.batchError(c, err)
		return
	}

	success(c, res)
}

// getHistory returns persisted rows for a source. Without a days parameter
// the window is the current UTC day; days=N selects the last N days, capped
// at the configured maximum.
// GET /api/v1/history/:source?days=N
func (s *Server) getHistory(c *gin.Context) {
	source := c.Param("source")
	columns, ok := service.HistoryColumns[source]
	if !ok {
		badRequest(c, "unknown source: "+source)
		return
	}

	days := 0
	if raw := c.Query("days"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			badRequest(c, "invalid days parameter")
			return
		}
		days = d
		if days > s.windowDays {
			days = s.windowDays
		}
	}

	rows, err := s.svc.History(c.Request.Context(), source, days)
	if err != nil {
		if store.IsStorageError(err) {
			storageError(c, err)
			return
		}
		badRequest(c, err.Error())
		return
	}

	success(c, HistoryResponse{Source: source, Columns: columns, Rows: rows})
}

// clearHistory wipes persisted history for today or the rolling window.
// DELETE /api/v1/history?scope=today|window
func (s *Server) clearHistory(c *gin.Context) {
	var err error
	switch scope := c.DefaultQuery("scope", "today"); scope {
	case "today":
		err = s.svc.ClearToday(c.Request.Context())
	case "window":
		err = s.svc.ClearRolling(c.Request.Context(), s.windowDays)
	default:
		badRequest(c, "unknown scope: "+scope)
		return
	}
	if err != nil {
		storageError(c, err)
		return
	}

	success(c, nil)
}

// clearCache drops every cached upstream outcome.
// DELETE /api/v1/cache
func (s *Server) clearCache(c *gin.Context) {
	if err := s.svc.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: err.Error(), Kind: "cache"})
		return
	}

	success(c, nil)
}

// batchError maps a failed batch to a response: configuration problems are
// the client's to fix, anything else is a persistence failure.
func (s *Server) batchError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotConfigured) {
		c.JSON(http.StatusConflict, Response{Code: 409, Message: err.Error(), Kind: "not_configured"})
		return
	}
	storageError(c, err)
}
