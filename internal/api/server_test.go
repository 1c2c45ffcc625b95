package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"affiliatescout/internal/api"
	"affiliatescout/internal/discovery"
	"affiliatescout/internal/model"
	"affiliatescout/internal/pipeline"
	"affiliatescout/internal/search"
	"affiliatescout/internal/store"
)

// stubService lets the envelope tests pick exact service outcomes.
type stubService struct {
	startJob  *model.SearchJob
	startErr  error
	statusJob *model.SearchJob
	statusErr error
}

func (s *stubService) StartSearch(ctx context.Context, keywords []string, sources []model.Platform, competitors []string) (*model.SearchJob, error) {
	return s.startJob, s.startErr
}

func (s *stubService) JobStatus(ctx context.Context, id int64) (*model.SearchJob, error) {
	return s.statusJob, s.statusErr
}

func postStart(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/search/start", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStartQuotaEnvelope(t *testing.T) {
	svc := &stubService{startErr: &api.QuotaError{Remaining: 7}}
	h := api.New(":0", svc, nil).Handler()

	rec := postStart(t, h, map[string]any{"keywords": []string{"yoga"}, "sources": []string{"youtube"}})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["creditError"] != true {
		t.Fatalf("creditError = %v, want true", body["creditError"])
	}
	if body["remaining"] != float64(7) {
		t.Fatalf("remaining = %v, want 7", body["remaining"])
	}
	if body["code"] != "INSUFFICIENT_CREDITS" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestStartRequiresKeywords(t *testing.T) {
	h := api.New(":0", &stubService{}, nil).Handler()
	rec := postStart(t, h, map[string]any{"sources": []string{"youtube"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartRejectsUnknownPlatform(t *testing.T) {
	h := api.New(":0", &stubService{}, nil).Handler()
	rec := postStart(t, h, map[string]any{"keywords": []string{"yoga"}, "sources": []string{"myspace"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusUnknownJobIs404(t *testing.T) {
	h := api.New(":0", &stubService{statusErr: api.ErrJobNotFound}, nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/search/status?jobId=99", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "JOB_NOT_FOUND" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestStatusReportsQueuedAsRunning(t *testing.T) {
	now := time.Now()
	svc := &stubService{statusJob: &model.SearchJob{
		ID: 5, Status: model.JobQueued, Message: "search queued",
		StartedAt: now, UpdatedAt: now,
	}}
	h := api.New(":0", svc, nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/search/status?jobId=5", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "running" {
		t.Fatalf("status = %v, want running", body["status"])
	}
	if _, ok := body["results"]; ok {
		t.Fatal("results present before the job is done")
	}
}

func TestStatusIncludesResultsWhenDone(t *testing.T) {
	now := time.Now()
	svc := &stubService{statusJob: &model.SearchJob{
		ID: 6, Status: model.JobDone, Message: "found 1 affiliates",
		Results:   []model.Affiliate{{Name: "creator", URL: "https://x", Platform: model.PlatformYouTube}},
		Breakdown: map[string]int{"youtube": 1},
		StartedAt: now.Add(-3 * time.Second), UpdatedAt: now,
	}}
	h := api.New(":0", svc, nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/search/status?jobId=6", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body := decodeBody(t, rec)
	if body["resultsCount"] != float64(1) {
		t.Fatalf("resultsCount = %v, want 1", body["resultsCount"])
	}
	if body["elapsedSeconds"] != float64(3) {
		t.Fatalf("elapsedSeconds = %v, want 3", body["elapsedSeconds"])
	}
}

// stubExporter records the key it was asked to presign.
type stubExporter struct {
	key string
	url string
	err error
}

func (s *stubExporter) PresignExportURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.key = key
	return s.url, s.err
}

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doneJobWithArchive(id int64) *model.SearchJob {
	now := time.Now()
	return &model.SearchJob{
		ID: id, Status: model.JobDone, Message: "found 2 affiliates",
		ArchiveKey: "searches/8/results.json",
		StartedAt:  now.Add(-5 * time.Second), UpdatedAt: now,
	}
}

func TestExportReturnsPresignedURL(t *testing.T) {
	exporter := &stubExporter{url: "https://archive.example/searches/8/results.json?sig=abc"}
	svc := &stubService{statusJob: doneJobWithArchive(8)}
	h := api.New(":0", svc, exporter).Handler()

	rec := getPath(t, h, "/search/export?jobId=8")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["url"] != exporter.url {
		t.Fatalf("url = %v, want %s", body["url"], exporter.url)
	}
	if exporter.key != "searches/8/results.json" {
		t.Fatalf("presigned key = %q, want the job's archive key", exporter.key)
	}
}

func TestExportBeforeDoneIsConflict(t *testing.T) {
	now := time.Now()
	svc := &stubService{statusJob: &model.SearchJob{
		ID: 8, Status: model.JobRunning, StartedAt: now, UpdatedAt: now,
	}}
	h := api.New(":0", svc, &stubExporter{url: "https://x"}).Handler()

	rec := getPath(t, h, "/search/export?jobId=8")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestExportWithoutArchiveIs404(t *testing.T) {
	job := doneJobWithArchive(8)
	job.ArchiveKey = ""
	h := api.New(":0", &stubService{statusJob: job}, &stubExporter{url: "https://x"}).Handler()

	rec := getPath(t, h, "/search/export?jobId=8")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "EXPORT_NOT_FOUND" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestExportWithoutObjectStoreIs404(t *testing.T) {
	h := api.New(":0", &stubService{statusJob: doneJobWithArchive(8)}, nil).Handler()
	rec := getPath(t, h, "/search/export?jobId=8")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRequestLogIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := api.New(":0", &stubService{statusErr: api.ErrJobNotFound}, nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/search/status?jobId=1", nil)
	req.Header.Set("X-Request-ID", "req-12345")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "req-12345") {
		t.Fatalf("request log %q does not carry the request id", buf.String())
	}
}

// TestClientAgainstStandaloneBackend runs the real polling client against the
// real in-memory backend end to end.
func TestClientAgainstStandaloneBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	jobs := store.NewMemoryStore(100, time.Minute)
	runner := pipeline.New(jobs, &discovery.Synthetic{Latency: 5 * time.Millisecond}, 2, time.Second)
	runner.Start(ctx)
	srv := httptest.NewServer(api.New(":0", pipeline.NewService(jobs, runner), nil).Handler())
	t.Cleanup(srv.Close)

	var last search.Progress
	client := search.New(srv.URL,
		search.WithPollInterval(5*time.Millisecond),
		search.WithMaxPollDuration(5*time.Second),
		search.WithProgress(func(p search.Progress) { last = p }),
	)

	outcome, err := client.Run(ctx, search.Request{
		Keywords: []string{"trail running"},
		Sources:  []model.Platform{model.PlatformYouTube, model.PlatformWeb},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.ResultsCount == 0 || len(outcome.Results) != outcome.ResultsCount {
		t.Fatalf("outcome results = %d (count %d)", len(outcome.Results), outcome.ResultsCount)
	}
	if len(outcome.Breakdown) == 0 {
		t.Fatal("outcome has no platform breakdown")
	}
	if last.Status != search.StatusDone {
		t.Fatalf("final snapshot status = %s, want done", last.Status)
	}
	if got := jobs.Remaining(); got != 98 {
		t.Fatalf("remaining credits = %d, want 98", got)
	}
}

// TestClientQuotaRejectionAgainstBackend verifies the 402 envelope round-trips
// into the client's typed credit error.
func TestClientQuotaRejectionAgainstBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	jobs := store.NewMemoryStore(1, time.Minute)
	runner := pipeline.New(jobs, &discovery.Synthetic{Latency: time.Millisecond}, 1, time.Second)
	runner.Start(ctx)
	srv := httptest.NewServer(api.New(":0", pipeline.NewService(jobs, runner), nil).Handler())
	t.Cleanup(srv.Close)

	client := search.New(srv.URL)
	_, err := client.Run(ctx, search.Request{
		Keywords: []string{"a", "b"},
		Sources:  []model.Platform{model.PlatformYouTube},
	})
	serr, ok := search.As(err)
	if !ok {
		t.Fatalf("err = %v, want typed search error", err)
	}
	if serr.Code != search.CodeInsufficientCredits || !serr.CreditError {
		t.Fatalf("code = %s creditError = %v", serr.Code, serr.CreditError)
	}
	if serr.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", serr.Remaining)
	}
}
