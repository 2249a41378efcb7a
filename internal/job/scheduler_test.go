package job

import (
	"context"
	"testing"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/config"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/testutil"
)

func startScheduler(t *testing.T, sys *system) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sys.scheduler.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sys.scheduler.Drain()
	})
	return cancel
}

func allTerminal(sys *system, ids ...string) func() bool {
	return func() bool {
		for _, id := range ids {
			jb, err := sys.store.Get(context.Background(), id)
			if err != nil || !jb.Status.Terminal() {
				return false
			}
		}
		return true
	}
}

func TestSchedulerRunsOldestFirst(t *testing.T) {
	t.Parallel()
	rt := &fakeRuntime{name: "docker"}
	sys := newSystem(t, defaultCaps(), rt)

	base := time.Now().UTC().Add(-time.Minute)
	seedJob(t, sys.store, &model.Job{ID: "b2", Status: model.StatusPending, Subject: "s", CreatedAt: base.Add(10 * time.Second)})
	seedJob(t, sys.store, &model.Job{ID: "a1", Status: model.StatusPending, Subject: "s", CreatedAt: base})
	seedJob(t, sys.store, &model.Job{ID: "c3", Status: model.StatusPending, Subject: "s", CreatedAt: base.Add(20 * time.Second)})

	startScheduler(t, sys)
	sys.scheduler.Kick()

	testutil.MustWaitFor(t, allTerminal(sys, "a1", "b2", "c3"), testutil.WithTimeout(5*time.Second))

	specs := rt.startedSpecs()
	if len(specs) != 3 {
		t.Fatalf("started %d executions, want 3", len(specs))
	}
	order := []string{specs[0].JobID, specs[1].JobID, specs[2].JobID}
	want := []string{"a1", "b2", "c3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestSchedulerRespectsRunningCapacity(t *testing.T) {
	t.Parallel()
	rt := &fakeRuntime{name: "docker", block: make(chan struct{})}
	caps := config.QueueConfig{RunningCap: 2, PendingCap: 5, TotalCap: 7}
	sys := newSystem(t, caps, rt)
	ctx := context.Background()

	ids := []string{"j1", "j2", "j3", "j4", "j5"}
	base := time.Now().UTC().Add(-time.Minute)
	for i, id := range ids {
		seedJob(t, sys.store, &model.Job{ID: id, Status: model.StatusPending, Subject: "s", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	startScheduler(t, sys)
	sys.scheduler.Kick()
	sys.scheduler.Kick()

	// Both workers fill; the remaining jobs must stay queued.
	testutil.MustWaitFor(t, func() bool {
		c, err := sys.store.Counts(ctx)
		return err == nil && c.Running == 2
	}, testutil.WithTimeout(5*time.Second))

	time.Sleep(100 * time.Millisecond)
	c, err := sys.store.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Running != 2 || c.Pending != 3 {
		t.Fatalf("counts = %+v, want 2 running / 3 pending", c)
	}

	// Releasing the executions lets the pool drain the rest.
	rt.unblock.Do(func() { close(rt.block) })
	testutil.MustWaitFor(t, allTerminal(sys, ids...), testutil.WithTimeout(5*time.Second))
}

func TestKickWakesIdleWorker(t *testing.T) {
	t.Parallel()
	rt := &fakeRuntime{name: "docker"}
	sys := newSystem(t, defaultCaps(), rt)

	// Effectively disable the safety tick so only a kick can wake the
	// worker.
	sys.scheduler.poll = time.Hour
	startScheduler(t, sys)

	input := writeInput(t, "scan.nii.gz")
	jb, err := sys.service.Submit(context.Background(), &SubmitRequest{InputPath: input, Subject: "subj"})
	if err != nil {
		t.Fatal(err)
	}

	testutil.MustWaitFor(t, allTerminal(sys, jb.ID), testutil.WithTimeout(5*time.Second))
}

func TestSchedulerSkipsCancelledPending(t *testing.T) {
	t.Parallel()
	rt := &fakeRuntime{name: "docker"}
	sys := newSystem(t, defaultCaps(), rt)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	seedJob(t, sys.store, &model.Job{ID: "dead", Status: model.StatusPending, Subject: "s", CreatedAt: base})
	seedJob(t, sys.store, &model.Job{ID: "live", Status: model.StatusPending, Subject: "s", CreatedAt: base.Add(time.Second)})
	if err := sys.service.Cancel(ctx, "dead"); err != nil {
		t.Fatal(err)
	}

	startScheduler(t, sys)
	sys.scheduler.Kick()

	testutil.MustWaitFor(t, allTerminal(sys, "live"), testutil.WithTimeout(5*time.Second))

	got, _ := sys.store.Get(ctx, "dead")
	if got.Status != model.StatusCancelled {
		t.Errorf("cancelled job status = %q, want untouched", got.Status)
	}
	if specs := rt.startedSpecs(); len(specs) != 1 || specs[0].JobID != "live" {
		t.Errorf("started = %v, want only the live job", specs)
	}
}
