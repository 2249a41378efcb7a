// Package progress watches the status stream of a running job and maps
// recognized phase markers to progress percentages. The monitor writes
// progress and step only; job status belongs to the lifecycle manager.
package progress

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Update is one observed phase advance. Updates are published on the
// monitor's channel for observers (metrics, tests); the store write has
// already happened when an Update is delivered.
type Update struct {
	JobID   string
	Percent int
	Step    string
}

// Recorder persists progress for a job.
type Recorder interface {
	UpdateProgress(ctx context.Context, id string, progress int, step string) error
}

// Config holds monitor settings.
type Config struct {
	// Interval between polls of the status stream.
	Interval time.Duration
	// StreamWait bounds how long the monitor waits for the stream to
	// appear before giving up silently.
	StreamWait time.Duration
}

// Monitor polls status streams for active jobs.
type Monitor struct {
	recorder Recorder
	phases   []Phase
	cfg      Config
	updates  chan Update
}

// NewMonitor creates a monitor using the given phase table.
func NewMonitor(recorder Recorder, phases []Phase, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.StreamWait <= 0 {
		cfg.StreamWait = 5 * time.Minute
	}
	return &Monitor{
		recorder: recorder,
		phases:   phases,
		cfg:      cfg,
		updates:  make(chan Update, 64),
	}
}

// Updates returns the channel of observed phase advances. Delivery is
// best-effort: when no one drains the channel, updates are dropped rather
// than blocking the watch loop.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

// Watch polls the status stream at statusPath until ctx is cancelled.
// Only lines appended since the previous poll are examined, tracked by
// line count. Each phase emits at most one update per job, so repeated
// markers are no-ops and progress never regresses.
//
// A stream that never appears within StreamWait ends the watch silently:
// progress simply stalls at its last value, the job itself is unaffected.
// A stream that disappears mid-run ends the watch the same way.
func (m *Monitor) Watch(ctx context.Context, jobID, statusPath string) {
	logger := slog.With("jobId", jobID, "stream", statusPath)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	appearDeadline := time.Now().Add(m.cfg.StreamWait)
	seenStream := false
	linesRead := 0
	matched := make(map[int]bool, len(m.phases))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lines, err := m.readNewLines(statusPath, linesRead)
		if err != nil {
			if !seenStream {
				if time.Now().After(appearDeadline) {
					logger.Debug("Status stream never appeared, giving up")
					return
				}
				continue
			}
			logger.Debug("Status stream gone, stopping watch", "error", err)
			return
		}
		seenStream = true
		linesRead += len(lines)

		for _, line := range lines {
			m.matchLine(ctx, logger, jobID, line, matched)
		}
	}
}

// readNewLines returns the lines after the first skip lines.
func (m *Monitor) readNewLines(statusPath string, skip int) ([]string, error) {
	f, err := os.Open(statusPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		if n <= skip {
			continue
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (m *Monitor) matchLine(ctx context.Context, logger *slog.Logger, jobID, line string, matched map[int]bool) {
	lower := strings.ToLower(line)
	for i, phase := range m.phases {
		if matched[i] || !strings.Contains(lower, phase.Marker) {
			continue
		}
		matched[i] = true

		if err := m.recorder.UpdateProgress(ctx, jobID, phase.Percent, phase.Step); err != nil {
			logger.Warn("Failed to record progress", "percent", phase.Percent, "error", err)
			continue
		}
		logger.Info("Progress", "percent", phase.Percent, "step", phase.Step)

		select {
		case m.updates <- Update{JobID: jobID, Percent: phase.Percent, Step: phase.Step}:
		default:
		}
	}
}
