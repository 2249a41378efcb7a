package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/config"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/health"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/job"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/progress"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store/memory"
)

type testAPI struct {
	router http.Handler
	store  *memory.Store
}

func newTestAPI(t *testing.T, apiKey string) *testAPI {
	t.Helper()

	st := memory.New()
	t.Cleanup(func() { st.Close() })

	selector := runtime.NewSelector()
	invoker := runtime.NewInvoker(st, time.Minute)
	monitor := progress.NewMonitor(st, progress.ReconPhases, progress.Config{
		Interval:   10 * time.Millisecond,
		StreamWait: 50 * time.Millisecond,
	})
	manager := job.NewManager(st, selector, invoker, monitor, nil, job.ManagerConfig{
		DataRoot:  t.TempDir(),
		ResultRel: "stats/aseg.stats",
		StatusRel: "scripts/recon-all-status.log",
	})
	scheduler := job.NewScheduler(st, manager, 1)
	svc := job.NewService(st, manager, scheduler, config.QueueConfig{
		RunningCap: 1, PendingCap: 5, TotalCap: 6,
	}, nil)

	checker := health.NewChecker(map[string]health.ReadinessCheck{
		"store": st.Ping,
	})

	router := NewRouter(RouterConfig{
		JobService:    svc,
		HealthChecker: checker,
		APIKey:        apiKey,
	})
	return &testAPI{router: router, store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func writeInputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.nii.gz")
	if err := os.WriteFile(path, []byte("volume"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSubmitJobEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodPost, "/v1/jobs", job.SubmitRequest{
		InputPath: writeInputFile(t),
		Subject:   "sub-000",
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp job.SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID == "" || resp.Status != model.StatusPending {
		t.Errorf("response = %+v, want id and pending status", resp)
	}
}

func TestSubmitJobInvalidBody(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitJobValidationError(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodPost, "/v1/jobs", job.SubmitRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitJobAdmissionRejected(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")
	input := writeInputFile(t)

	for i := range 6 {
		rec := a.do(t, http.MethodPost, "/v1/jobs", job.SubmitRequest{InputPath: input, Subject: "s"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("submission %d: status = %d", i+1, rec.Code)
		}
	}

	rec := a.do(t, http.MethodPost, "/v1/jobs", job.SubmitRequest{InputPath: input, Subject: "s"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429: %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	seed := &model.Job{ID: "abc123", Status: model.StatusRunning, Subject: "s", CreatedAt: time.Now().UTC(), Progress: 22, CurrentStep: "skull stripping"}
	if err := a.store.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	rec := a.do(t, http.MethodGet, "/v1/jobs/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var jb model.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jb); err != nil {
		t.Fatal(err)
	}
	if jb.ID != "abc123" || jb.Progress != 22 || jb.CurrentStep != "skull stripping" {
		t.Errorf("job = %+v", jb)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	seed := &model.Job{ID: "abc123", Status: model.StatusPending, Subject: "s", CreatedAt: time.Now().UTC()}
	if err := a.store.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	rec := a.do(t, http.MethodDelete, "/v1/jobs/abc123", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var jb model.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jb); err != nil {
		t.Fatal(err)
	}
	if jb.Status != model.StatusCancelled {
		t.Errorf("status = %q, want cancelled", jb.Status)
	}
}

func TestCancelJobNotFound(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodDelete, "/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListJobsEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	for _, id := range []string{"a1", "b2"} {
		if err := a.store.Create(context.Background(), &model.Job{ID: id, Status: model.StatusPending, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatal(err)
		}
	}

	rec := a.do(t, http.MethodGet, "/v1/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp job.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(resp.Jobs))
	}
}

func TestQueueEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	if err := a.store.Create(context.Background(), &model.Job{ID: "p1", Status: model.StatusPending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	rec := a.do(t, http.MethodGet, "/v1/queue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var qs job.QueueStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &qs); err != nil {
		t.Fatal(err)
	}
	if qs.Pending != 1 || qs.WorkerPoolSize != 1 {
		t.Errorf("queue = %+v, want 1 pending, pool 1", qs)
	}
}

func TestLivez(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodGet, "/livez", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzHealthy(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestReadyzUnhealthy(t *testing.T) {
	t.Parallel()
	checker := health.NewChecker(map[string]health.ReadinessCheck{
		"runtime": func(ctx context.Context) error { return errors.New("nothing usable") },
	})
	router := NewRouter(RouterConfig{
		HealthChecker: checker,
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "secret-key")

	// No credentials
	rec := a.do(t, http.MethodGet, "/v1/jobs", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", rec.Code)
	}

	// Wrong key
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}

	// Correct key
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct key: status = %d, want 200", rec.Code)
	}

	// Probes stay open
	rec = a.do(t, http.MethodGet, "/livez", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("livez: status = %d, want 200", rec.Code)
	}
}

func TestContentTypeEnforced(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}
