package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"affiliatescout/internal/model"
)

func TestStartQuotaExhaustedIssuesNoPolls(t *testing.T) {
	var statusPolls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"insufficient credits","creditError":true,"remaining":0,"code":"INSUFFICIENT_CREDITS"}`))
	})
	mux.HandleFunc("/search/status", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&statusPolls, 1)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	_, err := c.Run(context.Background(), Request{
		Keywords: []string{"fitness"},
		Sources:  []model.Platform{model.PlatformYouTube},
	})
	se, ok := As(err)
	if !ok || se.Code != CodeInsufficientCredits {
		t.Fatalf("expected INSUFFICIENT_CREDITS, got %v", err)
	}
	if !se.CreditError || se.Remaining != 0 {
		t.Fatalf("expected credit error with remaining 0, got %+v", se)
	}
	if se.HTTPStatus != http.StatusPaymentRequired {
		t.Fatalf("expected http 402 carried, got %d", se.HTTPStatus)
	}
	if n := atomic.LoadInt32(&statusPolls); n != 0 {
		t.Fatalf("expected zero status polls after quota rejection, got %d", n)
	}
}

func TestStartServerErrorMapsToStartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"orchestrator unavailable"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	_, err := c.Start(context.Background(), Request{Keywords: []string{"yoga"}})
	se, ok := As(err)
	if !ok || se.Code != CodeStartError {
		t.Fatalf("expected START_ERROR, got %v", err)
	}
	if se.HTTPStatus != http.StatusInternalServerError || se.Message != "orchestrator unavailable" {
		t.Fatalf("expected status and message carried, got %+v", se)
	}
}

func TestStartTransportErrorMapsToStartError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := testClient(t, url, nil)
	_, err := c.Start(context.Background(), Request{Keywords: []string{"yoga"}})
	if se, ok := As(err); !ok || se.Code != CodeStartError {
		t.Fatalf("expected START_ERROR on transport failure, got %v", err)
	}
}

func TestRunHappyPath(t *testing.T) {
	script := &statusScript{steps: []http.HandlerFunc{
		jsonStep(200, `{"status":"running","elapsedSeconds":1}`),
		jsonStep(200, `{"status":"enriching","elapsedSeconds":2}`),
		jsonStep(200, `{"status":"done","elapsedSeconds":3,"results":[{"name":"A","url":"https://a.example"},{"name":"B","url":"https://b.example"}]}`),
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/search/start", func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode start request: %v", err)
		}
		if len(req.Keywords) != 2 || req.Sources[0] != model.PlatformYouTube {
			t.Errorf("unexpected start payload: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":42,"status":"started","message":"search accepted"}`))
	})
	mux.Handle("/search/status", script)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rec := &recorder{}
	c := testClient(t, srv.URL, rec)
	out, err := c.Run(context.Background(), Request{
		Keywords: []string{"fitness", "supplements"},
		Sources:  []model.Platform{model.PlatformYouTube, model.PlatformWeb},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.JobID != 42 || len(out.Results) != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	snaps := rec.all()
	// starting, running (initiator success, elapsed 0), then one per poll
	want := []Status{StatusStarting, StatusRunning, StatusRunning, StatusEnriching, StatusDone}
	if len(snaps) != len(want) {
		t.Fatalf("expected %d snapshots, got %d: %+v", len(want), len(snaps), snaps)
	}
	for i, s := range snaps {
		if s.Status != want[i] {
			t.Fatalf("snapshot %d: expected %s, got %s", i, want[i], s.Status)
		}
	}
	if snaps[1].ElapsedSeconds != 0 {
		t.Fatalf("initiator success must report elapsed 0, got %d", snaps[1].ElapsedSeconds)
	}
	for i := 2; i < len(snaps); i++ {
		if snaps[i].ElapsedSeconds <= snaps[i-1].ElapsedSeconds-1 {
			t.Fatalf("elapsed must not regress: %+v", snaps)
		}
	}
}

func TestStartCancelledMapsToAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	_, err := c.Start(ctx, Request{Keywords: []string{"yoga"}})
	if !IsCancelled(err) {
		t.Fatalf("expected cancelled outcome, got %v", err)
	}
}

func TestStatusOneShot(t *testing.T) {
	script := &statusScript{steps: []http.HandlerFunc{
		jsonStep(200, `{"status":"processing","elapsedSeconds":11}`),
	}}
	srv := httptest.NewServer(script)
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	st, out, err := c.Status(context.Background(), 9)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st != StatusProcessing || out.ElapsedSeconds != 11 {
		t.Fatalf("unexpected status: %s %+v", st, out)
	}
}
