package job

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/config"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/progress"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store/memory"
)

// fakeRuntime is a controllable execution backend. By default every
// execution succeeds instantly and writes the expected result artifact.
type fakeRuntime struct {
	name     string
	probeErr error
	startErr error

	// exitCode and diagnostic shape the result of successful starts.
	exitCode   int
	diagnostic string
	// skipResult suppresses writing the result artifact.
	skipResult bool
	// block, when non-nil, makes Wait block until the channel closes or
	// the execution is cancelled.
	block chan struct{}

	mu        sync.Mutex
	started   []runtime.Spec
	cancelled []string
	aliveSet  map[string]bool
	unblock   sync.Once
}

func (f *fakeRuntime) Name() string { return f.name }

func (f *fakeRuntime) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeRuntime) Start(ctx context.Context, spec runtime.Spec) (runtime.Execution, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}

	f.mu.Lock()
	f.started = append(f.started, spec)
	f.mu.Unlock()

	if !f.skipResult {
		statsDir := filepath.Join(spec.OutputDir, spec.Subject, "stats")
		if err := os.MkdirAll(statsDir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(statsDir, "aseg.stats"), []byte("# test stats\n"), 0o644); err != nil {
			return nil, err
		}
	}

	handle := runtime.MakeHandle(f.name, spec.Name())
	f.setAlive(handle, true)
	return &fakeExecution{runtime: f, handle: handle}, nil
}

func (f *fakeRuntime) Cancel(ctx context.Context, handle string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, handle)
	f.mu.Unlock()

	f.setAlive(handle, false)
	if f.block != nil {
		f.unblock.Do(func() { close(f.block) })
	}
	return nil
}

func (f *fakeRuntime) Alive(ctx context.Context, handle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aliveSet[handle], nil
}

func (f *fakeRuntime) setAlive(handle string, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aliveSet == nil {
		f.aliveSet = make(map[string]bool)
	}
	f.aliveSet[handle] = alive
}

func (f *fakeRuntime) startedSpecs() []runtime.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runtime.Spec(nil), f.started...)
}

func (f *fakeRuntime) cancelledHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type fakeExecution struct {
	runtime *fakeRuntime
	handle  string
}

func (e *fakeExecution) Handle() string { return e.handle }

func (e *fakeExecution) Wait(ctx context.Context) (*runtime.ExitResult, error) {
	if e.runtime.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.runtime.block:
		}
	}
	e.runtime.setAlive(e.handle, false)
	return &runtime.ExitResult{ExitCode: e.runtime.exitCode, Diagnostic: e.runtime.diagnostic}, nil
}

// noopKicker satisfies Kicker for tests that drive components directly.
type noopKicker struct{}

func (noopKicker) Kick() {}

// system bundles a fully wired orchestration core over the memory store.
type system struct {
	store     *memory.Store
	selector  *runtime.Selector
	manager   *Manager
	scheduler *Scheduler
	service   *Service
	dataRoot  string
}

func defaultCaps() config.QueueConfig {
	return config.QueueConfig{RunningCap: 1, PendingCap: 5, TotalCap: 6}
}

func newSystem(t *testing.T, caps config.QueueConfig, runtimes ...runtime.Runtime) *system {
	t.Helper()

	st := memory.New()
	t.Cleanup(func() { st.Close() })

	selector := runtime.NewSelector(runtimes...)
	invoker := runtime.NewInvoker(st, time.Minute)
	monitor := progress.NewMonitor(st, progress.ReconPhases, progress.Config{
		Interval:   10 * time.Millisecond,
		StreamWait: 50 * time.Millisecond,
	})

	dataRoot := t.TempDir()
	manager := NewManager(st, selector, invoker, monitor, nil, ManagerConfig{
		DataRoot:    dataRoot,
		ResultRel:   "stats/aseg.stats",
		StatusRel:   "scripts/recon-all-status.log",
		MemoryMB:    1024,
		CPUs:        1,
		CancelGrace: 200 * time.Millisecond,
	})

	scheduler := NewScheduler(st, manager, caps.RunningCap)
	service := NewService(st, manager, scheduler, caps, nil)

	return &system{
		store:     st,
		selector:  selector,
		manager:   manager,
		scheduler: scheduler,
		service:   service,
		dataRoot:  dataRoot,
	}
}

// writeInput creates a readable input file and returns its path.
func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("volume data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// transitionStart mirrors the update a claim applies.
func transitionStart(now time.Time) store.TransitionUpdate {
	return store.TransitionUpdate{StartedAt: &now, Progress: store.Ptr(0)}
}

// transitionFinish mirrors the update a completion applies.
func transitionFinish(now time.Time) store.TransitionUpdate {
	return store.TransitionUpdate{CompletedAt: &now, Progress: store.Ptr(100), ClearHandle: true}
}

// seedJob inserts a job record directly, bypassing admission.
func seedJob(t *testing.T, st *memory.Store, jb *model.Job) {
	t.Helper()
	if jb.CreatedAt.IsZero() {
		jb.CreatedAt = time.Now().UTC()
	}
	if err := st.Create(context.Background(), jb); err != nil {
		t.Fatal(err)
	}
}
