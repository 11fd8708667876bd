package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupRouter(t *testing.T) (*gin.Engine, fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	router := gin.New()
	NewHandler(f.svc).RegisterRoutes(router.Group("/api/v1"))
	return router, f
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestStartAnalysisReturnsCreated(t *testing.T) {
	router, f := setupRouter(t)

	resp := doJSON(router, http.MethodPost, "/api/v1/analysis/start", map[string]string{"projectId": f.projectID, "seedPrompt": "hi"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"id", "status", "kind", "startedAt", "jobId"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing %q in %v", key, body)
		}
	}
	if body["status"] != "pending" || body["kind"] != "exploratory" || body["jobId"] != "analysis-"+body["id"].(string) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestStartAnalysisErrors(t *testing.T) {
	router, _ := setupRouter(t)

	if resp := doJSON(router, http.MethodPost, "/api/v1/analysis/start", map[string]string{"projectId": "missing"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := doJSON(router, http.MethodPost, "/api/v1/analysis/start", map[string]string{}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStartAnalysisEnqueueFailure(t *testing.T) {
	router, f := setupRouter(t)
	f.svc.Jobs = failingEnqueuer{err: errors.New("queue down")}

	resp := doJSON(router, http.MethodPost, "/api/v1/analysis/start", map[string]string{"projectId": f.projectID})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestFinalizeRoute(t *testing.T) {
	router, f := setupRouter(t)
	started, err := f.svc.StartExploratory(context.Background(), f.projectID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	resp := doJSON(router, http.MethodPost, "/api/v1/analysis/"+started.Analysis.ID+"/finalize", FinalizeRequest{UseFindingsDraft: true})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var body startedResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != KindRigidFinal || body.ID == started.Analysis.ID {
		t.Fatalf("expected a new rigid_final analysis, got %+v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/"+started.Analysis.ID+"/finalize", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("empty body should use defaults, got %d", rec.Code)
	}

	if resp := doJSON(router, http.MethodPost, "/api/v1/analysis/missing/finalize", FinalizeRequest{}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestStatusAndResultRoutes(t *testing.T) {
	router, f := setupRouter(t)
	seedAnalysis(t, f.repo, "a1", StatusRunning)
	if err := f.repo.MergeMetadata(context.Background(), "a1", map[string]any{"progress": 40}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	resp := doJSON(router, http.MethodGet, "/api/v1/analysis/a1/status", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view StatusView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Progress != 40 || view.Status != StatusRunning || len(view.PartialResult) == 0 {
		t.Fatalf("unexpected view %+v", view)
	}

	resp = doJSON(router, http.MethodGet, "/api/v1/analysis/a1/result", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	done := StatusDone
	if _, err := f.repo.Update(context.Background(), "a1", Update{Status: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	resp = doJSON(router, http.MethodGet, "/api/v1/analysis/a1/result", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var result map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &result)
	if _, ok := result["artifacts"].([]any); !ok {
		t.Fatalf("expected artifacts array, got %v", result)
	}

	if resp := doJSON(router, http.MethodGet, "/api/v1/analysis/nope/status", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListProjectAnalysesRoute(t *testing.T) {
	router, f := setupRouter(t)
	seedAnalysis(t, f.repo, "a1", StatusPending)

	resp := doJSON(router, http.MethodGet, "/api/v1/projects/"+f.projectID+"/analyses?limit=5", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []StatusView
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a1" {
		t.Fatalf("unexpected list %+v", list)
	}
	if resp := doJSON(router, http.MethodGet, "/api/v1/projects/missing/analyses", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
