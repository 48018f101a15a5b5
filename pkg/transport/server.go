// Package transport is the thin outer HTTP layer around the
// Investigation Engine, built on Gin for routing and JSON responses.
// It only does request plumbing:
// authentication context extraction, request/response marshalling, and
// per-case locking around engine turns. All investigation semantics
// live in pkg/engine and pkg/services.
package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegisops/aegis/pkg/engine"
	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
	"github.com/aegisops/aegis/pkg/services"
)

// turnRateLimit and turnRateWindow bound how often one owner may submit
// turns; generous enough not to interfere with normal back-and-forth,
// tight enough to blunt a runaway client hammering the LLM.
const (
	turnRateLimit  = 30
	turnRateWindow = time.Minute
)

// Server wires the Milestone Engine and the case-scoped services behind
// a Gin router.
type Server struct {
	Repo    ports.CaseRepository
	Engine  *engine.MilestoneEngine
	Cases   *services.InvestigationService
	Reports *services.ReportService
	Locks   *investigation.CaseLockTable

	// RateLimiter throttles turn submission per owner; nil disables
	// rate limiting entirely (e.g. in tests).
	RateLimiter ports.RateLimiter

	Now   func() time.Time
	NewID func() string
}

// NewServer constructs a Server around its collaborators. limiter may be
// nil to disable per-owner turn rate limiting.
func NewServer(repo ports.CaseRepository, eng *engine.MilestoneEngine, cases *services.InvestigationService, reports *services.ReportService, locks *investigation.CaseLockTable, limiter ports.RateLimiter) *Server {
	return &Server{
		Repo:        repo,
		Engine:      eng,
		Cases:       cases,
		Reports:     reports,
		Locks:       locks,
		RateLimiter: limiter,
		Now:         func() time.Time { return time.Now().UTC() },
		NewID:       cases.NewID,
	}
}

// Router builds the Gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	cases := r.Group("/cases")
	{
		cases.POST("", s.handleCreateCase)
		cases.GET("/:id", s.handleGetCase)
		cases.POST("/:id/turns", s.handlePostTurn)
		cases.GET("/:id/progress", s.handleGetProgress)
		cases.POST("/:id/reports", s.handleGenerateReport)
		cases.GET("/:id/reports/recommendations", s.handleReportRecommendations)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func ownerID(c *gin.Context) string {
	// The outer auth layer (not part of this module) is expected to
	// populate this header after verifying the caller's identity.
	return c.GetHeader("X-Owner-ID")
}

type createCaseRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

func (s *Server) handleCreateCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	owner := ownerID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
		return
	}

	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}

	now := s.Now()
	newCase := &ports.Case{
		ID:          s.NewID(),
		OwnerID:     owner,
		Title:       req.Title,
		Description: req.Description,
		Status:      investigation.CaseStatusConsulting,
		Priority:    priority,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.Save(c.Request.Context(), newCase); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, newCase)
}

func (s *Server) handleGetCase(c *gin.Context) {
	caseID := c.Param("id")
	owner := ownerID(c)

	got, err := s.Repo.Get(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if got == nil || got.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
		return
	}
	c.JSON(http.StatusOK, got)
}

type postTurnRequest struct {
	Message string `json:"message" binding:"required"`
}

type postTurnResponse struct {
	Response string              `json:"response"`
	Meta     engine.TurnMetadata `json:"meta"`
}

// handlePostTurn is the one route that drives the Milestone Engine: it
// holds the per-case lock for the full turn so two requests against the
// same case never interleave, then persists the mutated case through
// the same repository the engine read it from.
func (s *Server) handlePostTurn(c *gin.Context) {
	caseID := c.Param("id")
	owner := ownerID(c)

	var req postTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.RateLimiter != nil {
		allowed, err := s.RateLimiter.Allow(c.Request.Context(), "turns:"+owner, turnRateLimit, turnRateWindow)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "turn rate limit exceeded"})
			return
		}
	}

	unlock := s.Locks.Lock(caseID)
	defer unlock()

	ctx := c.Request.Context()
	got, err := s.Repo.Get(ctx, caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if got == nil || got.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
		return
	}

	resp, meta, err := s.Engine.ProcessTurn(ctx, got, req.Message, nil)
	if err != nil {
		var invariant *investigation.InvariantViolationError
		if errors.As(err, &invariant) {
			c.JSON(http.StatusConflict, gin.H{"error": invariant.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.Repo.Save(ctx, got); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, postTurnResponse{Response: resp, Meta: meta})
}

func (s *Server) handleGetProgress(c *gin.Context) {
	caseID := c.Param("id")
	owner := ownerID(c)

	progress, err := s.Cases.GetProgress(c.Request.Context(), caseID, owner)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrUnauthorized) {
			c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if progress == nil {
		c.JSON(http.StatusOK, gin.H{"phase": nil})
		return
	}
	c.JSON(http.StatusOK, progress)
}

type generateReportRequest struct {
	Type   investigation.ReportType `json:"type" binding:"required"`
	UseLLM bool                     `json:"use_llm"`
}

func (s *Server) handleGenerateReport(c *gin.Context) {
	caseID := c.Param("id")
	owner := ownerID(c)

	var req generateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	got, err := s.Repo.Get(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if got == nil || got.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
		return
	}

	report, err := s.Reports.Generate(c.Request.Context(), got, req.Type, req.UseLLM)
	if err != nil {
		var limit *investigation.VersionLimitError
		if errors.As(err, &limit) {
			c.JSON(http.StatusConflict, gin.H{"error": limit.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (s *Server) handleReportRecommendations(c *gin.Context) {
	caseID := c.Param("id")
	owner := ownerID(c)

	got, err := s.Repo.Get(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if got == nil || got.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
		return
	}

	recs, err := s.Reports.Recommendations(c.Request.Context(), got)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommended": recs})
}
