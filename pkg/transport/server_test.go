package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisops/aegis/pkg/engine"
	"github.com/aegisops/aegis/pkg/engine/prompt"
	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
	"github.com/aegisops/aegis/pkg/services"
)

type fakeRepo struct {
	cases map[string]*ports.Case
}

func (r *fakeRepo) Get(ctx context.Context, caseID string) (*ports.Case, error) {
	c, ok := r.cases[caseID]
	if !ok {
		return nil, nil
	}
	return c, nil
}
func (r *fakeRepo) Save(ctx context.Context, c *ports.Case) error {
	r.cases[c.ID] = c
	return nil
}
func (r *fakeRepo) ListForOwner(ctx context.Context, ownerID string, filters ports.Filters, page ports.Pagination) ([]*ports.Case, error) {
	return nil, nil
}
func (r *fakeRepo) Delete(ctx context.Context, caseID string) error {
	delete(r.cases, caseID)
	return nil
}

type fakeLLM struct{}

func (fakeLLM) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	return ports.ChatResponse{Content: "noted.", Parsed: []byte(`{"commit_to_investigation": false}`)}, nil
}
func (fakeLLM) Stream(ctx context.Context, req ports.ChatRequest) (<-chan ports.StreamChunk, error) {
	panic("not used")
}
func (fakeLLM) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	panic("not used")
}

func newTestServer(cases ...*ports.Case) *Server {
	repo := &fakeRepo{cases: make(map[string]*ports.Case)}
	for _, c := range cases {
		repo.cases[c.ID] = c
	}
	eng := engine.NewMilestoneEngine(fakeLLM{}, prompt.NewDefaultBuilder(investigation.NewHypothesisManager()))
	eng.Now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	caseSvc := services.NewInvestigationService(repo)
	reportSvc := services.NewReportService(nil, fakeLLM{})
	return NewServer(repo, eng, caseSvc, reportSvc, investigation.NewCaseLockTable(), nil)
}

func TestServer_HealthReturnsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_CreateCaseRequiresOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := newTestServer()
	body, _ := json.Marshal(map[string]string{"title": "checkout errors"})
	req := httptest.NewRequest(http.MethodPost, "/cases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_CreateAndFetchCase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := newTestServer()
	router := srv.Router()

	body, _ := json.Marshal(map[string]string{"title": "checkout errors"})
	req := httptest.NewRequest(http.MethodPost, "/cases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created ports.Case
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, investigation.CaseStatusConsulting, created.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/cases/"+created.ID, nil)
	getReq.Header.Set("X-Owner-ID", "u1")
	getW := httptest.NewRecorder()
	router.ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestServer_PostTurnDrivesEngineAndPersists(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := &ports.Case{ID: "c1", OwnerID: "u1", Status: investigation.CaseStatusConsulting}
	srv := newTestServer(c)
	router := srv.Router()

	body, _ := json.Marshal(map[string]string{"message": "checkout is timing out"})
	req := httptest.NewRequest(http.MethodPost, "/cases/c1/turns", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, c.Investigation.CurrentTurn)
}

func TestServer_PostTurnUnknownCaseReturns404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := newTestServer()
	router := srv.Router()

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/cases/nonexistent/turns", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
