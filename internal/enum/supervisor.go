package enum

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/logger"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/telemetry"
)

const progressBarWidth = 30

// ProcessRecord tracks one supervised command across its lifetime,
// including any respawns after a timeout. The pid chain records every
// process the command ran as.
type ProcessRecord struct {
	id       string
	work     Work
	cmd      *exec.Cmd
	started  time.Time
	deadline time.Time
	retries  int
	pids     []int
	timedOut bool
	active   bool
	done     chan struct{}
	err      error
}

// Done is closed once the command has finished for good, whether it
// exited naturally or exhausted its retry budget.
func (r *ProcessRecord) Done() <-chan struct{} { return r.done }

// Err reports how the command ended. Nil means a natural exit; the
// pipeline deliberately ignores exit codes, so callers mostly use this
// for logging.
func (r *ProcessRecord) Err() error { return r.err }

// WorkerID returns the short identifier used in console and log output.
func (r *ProcessRecord) WorkerID() string { return r.id }

// PIDs returns the chain of process ids this command has run as.
func (r *ProcessRecord) PIDs() []int { return append([]int(nil), r.pids...) }

type exitEvent struct {
	rec *ProcessRecord
	err error
}

// Supervisor owns every child process the pipeline spawns. Commands are
// registered through Submit; a heartbeat loop enforces deadlines,
// respawns timed-out commands while their retry budget lasts, renders
// progress gauges, and decides when the whole run is over.
type Supervisor struct {
	log       *logger.Logger
	console   *Console
	control   *RunControl
	metrics   telemetry.Recorder
	limiter   *rate.Limiter
	heartbeat time.Duration
	retryMax  int

	mu      sync.Mutex
	records map[string]*ProcessRecord

	exitCh  chan exitEvent
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewSupervisor wires a supervisor against the shared run control. The
// limiter caps how fast new processes are spawned.
func NewSupervisor(log *logger.Logger, console *Console, control *RunControl, metrics telemetry.Recorder, limiter *rate.Limiter, heartbeat time.Duration, retryMax int) *Supervisor {
	return &Supervisor{
		log:       log.WithComponent("supervisor"),
		console:   console,
		control:   control,
		metrics:   metrics,
		limiter:   limiter,
		heartbeat: heartbeat,
		retryMax:  retryMax,
		records:   make(map[string]*ProcessRecord),
		exitCh:    make(chan exitEvent, 64),
		stopped:   make(chan struct{}),
	}
}

// Start launches the heartbeat loop. Call exactly once before Submit.
func (s *Supervisor) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Submit starts the command immediately and registers it for heartbeat
// supervision. The returned record's Done channel closes when the
// command will not run again.
func (s *Supervisor) Submit(ctx context.Context, work Work) (*ProcessRecord, error) {
	if strings.TrimSpace(work.Command) == "" {
		return nil, fmt.Errorf("refusing to supervise empty command")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for spawn slot: %w", err)
	}

	rec := &ProcessRecord{
		id:      uuid.New().String()[:8],
		work:    work,
		retries: s.retryMax,
		active:  true,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.spawn(rec); err != nil {
		return nil, err
	}
	s.records[rec.id] = rec
	s.metrics.RecordCommand(work.Kind.String())
	s.log.Debugw("Command submitted",
		"worker_id", rec.id,
		"kind", work.Kind.String(),
		"pid", rec.pids[len(rec.pids)-1])
	return rec, nil
}

// spawn starts a fresh process for the record and resets its deadline.
// Caller holds s.mu.
func (s *Supervisor) spawn(rec *ProcessRecord) error {
	cmd := exec.Command("sh", "-c", rec.work.Command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}

	rec.cmd = cmd
	rec.started = time.Now()
	rec.deadline = rec.started.Add(s.control.CommandTimeout)
	rec.timedOut = false
	rec.pids = append(rec.pids, cmd.Process.Pid)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cmd.Wait()
		s.exitCh <- exitEvent{rec: rec, err: err}
	}()
	return nil
}

func (s *Supervisor) loop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.killAll()
			s.drainAndStop()
			return
		case ev := <-s.exitCh:
			s.handleExit(ev)
		case <-ticker.C:
			if s.tick() {
				close(s.stopped)
				return
			}
		}
	}
}

// handleExit reacts to a child process ending. A timed-out command with
// retries left is respawned with a full fresh timeout; anything else is
// final.
func (s *Supervisor) handleExit(ev exitEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := ev.rec
	if !rec.active {
		return
	}

	if rec.timedOut && rec.retries > 0 {
		rec.retries--
		s.metrics.RecordRetry(rec.work.Kind.String())
		if err := s.spawn(rec); err != nil {
			s.log.Errorw("Respawn failed", "worker_id", rec.id, "error", err)
			s.finish(rec, err)
			return
		}
		s.console.WorkerPrintf(rec.id, "Restarting timed out command (pids %v, %d retries left): %s",
			rec.pids, rec.retries, rec.work.Command)
		s.log.Warnw("Command respawned after timeout",
			"worker_id", rec.id,
			"pids", rec.pids,
			"retries_left", rec.retries)
		return
	}

	var err error
	if rec.timedOut {
		err = fmt.Errorf("command timed out after %d attempts", len(rec.pids))
		s.console.WorkerPrintf(rec.id, "Giving up on timed out command (pids %v): %s", rec.pids, rec.work.Command)
	}
	if err == nil && ev.err != nil {
		// Exit codes are not acted on, but keep them visible.
		s.log.Debugw("Command exited nonzero", "worker_id", rec.id, "error", ev.err)
	}
	s.finish(rec, err)
}

// finish marks the record inactive and releases its waiters. Caller
// holds s.mu.
func (s *Supervisor) finish(rec *ProcessRecord, err error) {
	rec.active = false
	rec.err = err
	delete(s.records, rec.id)
	close(rec.done)
}

// tick runs one heartbeat: enforce deadlines, paint progress, and check
// whether the run is complete. Returns true when the supervisor should
// shut down.
func (s *Supervisor) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, rec := range s.records {
		if !rec.active {
			continue
		}
		if now.After(rec.deadline) && !rec.timedOut {
			rec.timedOut = true
			s.metrics.RecordTimeout(rec.work.Kind.String())
			s.log.Warnw("Command deadline exceeded, killing",
				"worker_id", rec.id,
				"pid", rec.cmd.Process.Pid,
				"command", rec.work.Command)
			if err := rec.cmd.Process.Kill(); err != nil {
				s.log.Errorw("Kill failed", "worker_id", rec.id, "error", err)
			}
			continue
		}
		s.console.WorkerPrintf(rec.id, "%s %s", renderGauge(rec.started, rec.deadline, now), truncateCommand(rec.work.Command))
	}

	return s.control.PrimaryComplete() && len(s.records) == 0 && !s.control.SubmitsPending()
}

func (s *Supervisor) killAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.active && rec.cmd != nil && rec.cmd.Process != nil {
			_ = rec.cmd.Process.Kill()
		}
	}
}

// drainAndStop consumes outstanding exit events after a context cancel
// so process watchers can finish, then releases WaitAll.
func (s *Supervisor) drainAndStop() {
	go func() {
		for ev := range s.exitCh {
			s.mu.Lock()
			if ev.rec.active {
				s.finish(ev.rec, context.Canceled)
			}
			s.mu.Unlock()
		}
	}()
	s.wg.Wait()
	close(s.exitCh)
	close(s.stopped)
}

// WaitAll blocks until the heartbeat loop has decided the run is over
// and every process watcher has drained.
func (s *Supervisor) WaitAll() {
	<-s.stopped
	s.wg.Wait()
}

// renderGauge draws a fixed-width elapsed/timeout bar for one command.
func renderGauge(started, deadline, now time.Time) string {
	total := deadline.Sub(started)
	elapsed := now.Sub(started)
	frac := float64(elapsed) / float64(total)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * progressBarWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)
	return fmt.Sprintf("[%s] %3.0f%% (%s/%s)", bar, frac*100, elapsed.Round(time.Second), total.Round(time.Second))
}

func truncateCommand(command string) string {
	const max = 80
	if len(command) <= max {
		return command
	}
	return command[:max-3] + "..."
}
