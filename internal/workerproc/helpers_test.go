package workerproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"audiobrand-backend/internal/analyses"
	"audiobrand-backend/internal/artifacts"
	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/media"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/report"
	"audiobrand-backend/internal/snapshots"
	"audiobrand-backend/internal/workers"
)

type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

type fakeLLM struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Model: req.Model, Content: f.content}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return nil, errors.New("not supported")
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeComposer fails for prompts naming a description in fail.
type fakeComposer struct {
	mu      sync.Mutex
	fail    map[int]bool
	prompts []string
}

func (c *fakeComposer) Compose(ctx context.Context, req media.ComposeRequest) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, req.Prompt)
	for n := range c.fail {
		if strings.Contains(req.Prompt, fmt.Sprintf("idea %d ", n)) {
			return nil, &media.APIError{Provider: "fake", StatusCode: 503, Body: "overloaded"}
		}
	}
	return []byte("ID3-audio:" + req.Prompt), nil
}

func (c *fakeComposer) Name() string { return "fake" }

type failingRenderer struct{}

func (failingRenderer) Render(ctx context.Context, r analyses.FinalReport, title string) ([]byte, error) {
	return nil, errors.New("font missing")
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.types[key] = contentType
	return int64(len(b)), nil
}

func (s *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

// recordingRepo captures every progress value merged into an analysis.
type recordingRepo struct {
	*analyses.MemoryRepo
	mu       sync.Mutex
	progress []int
}

func (r *recordingRepo) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	if err := r.MemoryRepo.MergeMetadata(ctx, id, patch); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := patch[analyses.MetaProgress].(int); ok {
		r.progress = append(r.progress, p)
	}
	return nil
}

type env struct {
	proc      *Processor
	analyses  *recordingRepo
	projects  *projects.MemoryRepo
	artifacts *artifacts.MemoryRepo
	store     *memStore
	llm       *fakeLLM
	composer  *fakeComposer
}

const (
	testProjectID = "project-1"
	testBrand     = "Crumb Bakery"
)

func newEnv(t fatalHelper) *env {
	t.Helper()
	ctx := context.Background()
	projectRepo := projects.NewMemoryRepo()
	if err := projectRepo.CreateProject(ctx, projects.Project{
		ID:           testProjectID,
		BrandName:    testBrand,
		BrandWebsite: "https://crumb.example",
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	builder := &snapshots.Builder{Projects: projectRepo}
	e := &env{
		analyses:  &recordingRepo{MemoryRepo: analyses.NewMemoryRepo()},
		projects:  projectRepo,
		artifacts: artifacts.NewMemoryRepo(),
		store:     newMemStore(),
		llm:       &fakeLLM{},
		composer:  &fakeComposer{fail: map[int]bool{}},
	}
	e.proc = &Processor{
		Analyses:  e.analyses,
		Projects:  projectRepo,
		Artifacts: e.artifacts,
		Store:     e.store,
		LLM:       e.llm,
		Composer:  e.composer,
		Sanitizer: media.DefaultSanitizer(),
		Reports:   report.NewRenderer(),
		Snapshots: builder,
		Refresher: snapshots.NewRefresher(builder, snapshots.DefaultPolicy()),
		Config:    Config{ExploratoryModel: "sonar-pro", FinalModel: "sonar-reasoning"},
	}
	return e
}

func (e *env) seedAnalysis(t fatalHelper, id string, kind analyses.Kind, status analyses.Status) {
	t.Helper()
	if err := e.analyses.Create(context.Background(), analyses.Analysis{
		ID:        id,
		ProjectID: testProjectID,
		Kind:      kind,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
}

func (e *env) analysis(t fatalHelper, id string) analyses.Analysis {
	t.Helper()
	a, err := e.analyses.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	return a
}

func newJob(t fatalHelper, queue, name string, payload any, attempt, maxAttempts int) *workers.Job {
	t.Helper()
	raw, err := jobs.EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return workers.NewJob(jobs.Job{
		ID:          "job-1",
		Queue:       queue,
		Name:        name,
		Payload:     raw,
		Attempts:    attempt,
		MaxAttempts: maxAttempts,
	}, nil)
}

func finalizeJob(t fatalHelper, analysisID string, attempt int) *workers.Job {
	return newJob(t, jobs.QueueFinalize, jobs.NameFinalizeAnalysis, analyses.FinalizePayload{
		AnalysisID:            analysisID,
		ProjectID:             testProjectID,
		ExploratoryAnalysisID: "exp-1",
		UseFindingsDraft:      true,
	}, attempt, 5)
}

// reportJSON builds a generator answer with the first count descriptions,
// wrapped in reasoning and a fence the way reasoning models answer.
func reportJSON(count int) string {
	jingle := map[string]any{
		"concept_statement": "Warm morning rituals",
		"keywords":          []string{"warm", "fresh"},
		"imagery":           "steam over a counter",
		"why_it_works":      []string{"memorable"},
	}
	for n := 1; n <= count; n++ {
		jingle[fmt.Sprintf("description%d", n)] = map[string]any{
			"title":             fmt.Sprintf("Idea %d", n),
			"musical_elements":  "piano and brushed snare",
			"elevenlabs_prompt": fmt.Sprintf("idea %d bright piano with a cha-ching accent", n),
			"feel":              "~100 BPM",
			"emotional_effect":  "cosy",
		}
	}
	doc := map[string]any{
		"brand_findings":     map[string]any{"positioning": "neighbourhood bakery"},
		"artistic_rationale": "Bread is comfort.",
		"jingle":             jingle,
		"composition_plan": map[string]any{
			"positive_global_styles": []string{"acoustic"},
			"negative_global_styles": []string{},
		},
		"extra_notes": "kept verbatim",
	}
	b, _ := json.Marshal(doc)
	return "<think>planning the five ideas</think>\n```json\n" + string(b) + "\n```"
}
