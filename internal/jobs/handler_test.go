package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	q, _, _ := newTestQueue(t)
	r := gin.New()
	NewHandler(q).RegisterRoutes(r.Group("/api/v1"))
	return r, q
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(method, path, nil))
	return resp
}

func TestJobStatusInfersQueueFromKey(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, QueueFinalize, NameFinalizeAnalysis, payload{AnalysisID: "a1"}, FinalizeOptions("a1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp := serve(r, http.MethodGet, "/api/v1/jobs/finalize-a1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var st Status
	if err := json.Unmarshal(resp.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != StateWaiting || st.Queue != QueueFinalize || st.MaxAttempts != 5 {
		t.Fatalf("unexpected status %+v", st)
	}

	if resp := serve(r, http.MethodGet, "/api/v1/jobs/finalize-a1?queue=analysis"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on the wrong queue, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodGet, "/api/v1/jobs/finalize-missing"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodGet, "/api/v1/jobs/random-id"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a resolvable queue, got %d", resp.Code)
	}
}

func TestJobRetryRoute(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, QueueAnalysis, NameExploratoryAnalysis, payload{AnalysisID: "a1"}, AnalysisOptions("a1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if resp := serve(r, http.MethodPost, "/api/v1/jobs/analysis-a1/retry"); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a waiting job, got %d", resp.Code)
	}

	job, ok, err := q.Claim(ctx, QueueAnalysis, time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if _, err := q.Fail(ctx, job, Permanent(errors.New("bad payload"))); err != nil {
		t.Fatalf("fail: %v", err)
	}

	resp := serve(r, http.MethodPost, "/api/v1/jobs/analysis-a1/retry")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var st Status
	if err := json.Unmarshal(resp.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != StateWaiting || st.Attempts != 0 || st.FailedReason != "" {
		t.Fatalf("unexpected status after retry %+v", st)
	}

	if resp := serve(r, http.MethodPost, "/api/v1/jobs/analysis-missing/retry"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestJobListRoute(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2"} {
		if _, err := q.Enqueue(ctx, QueueAnalysis, NameExploratoryAnalysis, payload{AnalysisID: id}, AnalysisOptions(id)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	resp := serve(r, http.MethodGet, "/api/v1/jobs?queue=analysis&state=waiting")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []Status
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}

	if resp := serve(r, http.MethodGet, "/api/v1/jobs?queue=other"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodGet, "/api/v1/jobs?queue=analysis&state=bogus"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
