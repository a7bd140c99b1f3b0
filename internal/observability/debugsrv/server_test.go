package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"idlejob/internal/jobs"
	"idlejob/internal/storage"
	logx "idlejob/pkg/logx"
)

type fakeSource struct{ snap jobs.Snapshot }

func (f fakeSource) Snapshot() jobs.Snapshot { return f.snap }

type fakeAudit struct {
	entries []storage.AuditEntry
	err     error
	limit   int
}

func (f *fakeAudit) ListAudit(_ context.Context, limit int) ([]storage.AuditEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func waitForHTTP(ctx context.Context, url string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil && resp != nil {
			_ = resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestJobsEndpointServesSnapshot(t *testing.T) {
	src := fakeSource{snap: jobs.Snapshot{Running: true, Jobs: 3, Ticks: 42, MaxInterval: 15}}
	srv := New(Config{}, logx.Nop(), src)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var got jobs.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Running || got.Jobs != 3 || got.Ticks != 42 || got.MaxInterval != 15 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestHealthzReflectsWorker(t *testing.T) {
	for _, tc := range []struct {
		running bool
		want    int
	}{
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
	} {
		srv := New(Config{}, logx.Nop(), fakeSource{snap: jobs.Snapshot{Running: tc.running}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.want {
			t.Fatalf("running=%v: status = %d, want %d", tc.running, rec.Code, tc.want)
		}
	}
}

func TestAuditEndpoint(t *testing.T) {
	audit := &fakeAudit{entries: []storage.AuditEntry{{ID: "a", Event: "jobs.init"}}}
	srv := New(Config{}, logx.Nop(), fakeSource{}, WithAudit(audit))
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/jobs/audit?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if audit.limit != 5 {
		t.Fatalf("limit = %d, want 5", audit.limit)
	}
	var got []storage.AuditEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || len(got) != 1 || got[0].Event != "jobs.init" {
		t.Fatalf("unexpected body %s (err=%v)", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/jobs/audit?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	audit.err = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/jobs/audit", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("error status = %d", rec.Code)
	}
	if audit.limit != 50 {
		t.Fatalf("default limit = %d, want 50", audit.limit)
	}

	rec = httptest.NewRecorder()
	New(Config{}, logx.Nop(), fakeSource{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/jobs/audit", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no audit status = %d", rec.Code)
	}
}

func TestTokenRequired(t *testing.T) {
	srv := New(Config{Token: "s3cret"}, logx.Nop(), fakeSource{snap: jobs.Snapshot{Running: true}})
	h := srv.Handler()

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/debug/jobs", "", http.StatusUnauthorized},
		{"bearer", "/debug/jobs", "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "/debug/jobs", "Bearer nope", http.StatusUnauthorized},
		{"query", "/debug/jobs?token=s3cret", "", http.StatusOK},
		{"wrong query", "/debug/jobs?token=nope", "Bearer s3cret", http.StatusUnauthorized},
		{"prefix query", "/debug/jobs?token=s3cre", "", http.StatusUnauthorized},
		{"longer bearer", "/debug/jobs", "Bearer s3cret2", http.StatusUnauthorized},
		{"pprof", "/debug/pprof/", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestReconfigureEnableDisable(t *testing.T) {
	srv := New(Config{}, logx.Nop(), fakeSource{snap: jobs.Snapshot{Running: true}})
	t.Cleanup(func() { srv.Stop(context.Background()) })
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		// Avoid leaking profiling knobs across tests.
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", BlockProfileRate: 1, MutexProfileFraction: 7}
	if err := srv.Reconfigure(ctx, cfg); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected debug server to expose address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/"); err != nil {
		t.Fatalf("pprof endpoint not reachable: %v", err)
	}
	if got := runtime.SetMutexProfileFraction(-1); got != cfg.MutexProfileFraction {
		t.Fatalf("mutex profile fraction = %d, want %d", got, cfg.MutexProfileFraction)
	}

	// Disable and ensure listener shuts down.
	if err := srv.Reconfigure(ctx, Config{}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if addr := srv.Addr(); addr != "" {
		t.Fatalf("expected debug server to stop, still at %s", addr)
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	srv := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), fakeSource{})
	if err := srv.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err = %v, want ErrInsecureBind", err)
	}
	if srv.Addr() != "" {
		t.Fatal("server must not be listening")
	}
}

func TestTokenMatch(t *testing.T) {
	if !tokenMatch("s3cret", "s3cret") {
		t.Fatal("equal tokens must match")
	}
	for _, got := range []string{"", "s3cre", "s3cret ", "S3CRET"} {
		if tokenMatch(got, "s3cret") {
			t.Fatalf("%q must not match", got)
		}
	}
}
