package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Daemon is an external child process the service depends on, such as a
// locally-launched docling-serve instance.
type Daemon interface {
	Name() string
	Command() (bin string, args []string)
	ReadyCheck() ReadyProbe
	Healthy(ctx context.Context) bool
}

type ReadyProbe struct {
	Check    func(ctx context.Context) bool
	Interval time.Duration
	Timeout  time.Duration
}

const (
	stopGracePeriod = 5 * time.Second
	watchInterval   = 5 * time.Second
)

// Manager supervises daemon lifecycles: start with ready probe, health
// watch with restart, graceful stop on shutdown.
type Manager struct {
	mu      sync.Mutex
	daemons []supervised
}

type supervised struct {
	daemon Daemon
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(d Daemon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daemons = append(m.daemons, supervised{daemon: d})
}

// StartAll launches every registered daemon and waits until each reports
// ready, or fails on the first one that does not come up.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.daemons {
		if err := m.startOne(ctx, &m.daemons[i]); err != nil {
			return fmt.Errorf("start %s: %w", m.daemons[i].daemon.Name(), err)
		}
	}
	return nil
}

func (m *Manager) startOne(ctx context.Context, sd *supervised) error {
	bin, args := sd.daemon.Command()

	// The daemon gets its own context so parent cancellation does not kill
	// it mid-conversion; StopAll handles shutdown explicitly.
	dCtx, cancel := context.WithCancel(context.Background())
	sd.cancel = cancel

	cmd := exec.CommandContext(dCtx, bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	sd.cmd = cmd

	log.Info().Str("daemon", sd.daemon.Name()).Str("bin", bin).Msg("starting daemon")

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start process: %w", err)
	}

	probe := sd.daemon.ReadyCheck()
	deadline := time.Now().Add(probe.Timeout)
	for time.Now().Before(deadline) {
		if probe.Check(ctx) {
			log.Info().Str("daemon", sd.daemon.Name()).Msg("daemon ready")
			return nil
		}
		time.Sleep(probe.Interval)
	}
	return fmt.Errorf("daemon %s not ready after %s", sd.daemon.Name(), probe.Timeout)
}

// StopAll stops all daemons in parallel, escalating from SIGTERM to kill
// after the grace period.
func (m *Manager) StopAll(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wg sync.WaitGroup
	for i := range m.daemons {
		sd := &m.daemons[i]
		if sd.cmd == nil || sd.cmd.Process == nil {
			continue
		}
		wg.Add(1)
		go func(sd *supervised) {
			defer wg.Done()
			stopOne(sd)
		}(sd)
	}
	wg.Wait()
}

func stopOne(sd *supervised) {
	log.Info().Str("daemon", sd.daemon.Name()).Msg("stopping daemon")

	_ = sd.cmd.Process.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		_ = sd.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		_ = sd.cmd.Process.Kill()
	}

	if sd.cancel != nil {
		sd.cancel()
	}
}

// Watch periodically health-checks daemons and restarts unhealthy ones.
// It blocks until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAndRestart(ctx)
		}
	}
}

func (m *Manager) checkAndRestart(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.daemons {
		sd := &m.daemons[i]
		if sd.cmd == nil || sd.cmd.Process == nil {
			continue
		}
		if sd.daemon.Healthy(ctx) {
			continue
		}
		log.Warn().Str("daemon", sd.daemon.Name()).Msg("daemon unhealthy, restarting")
		if sd.cancel != nil {
			sd.cancel()
		}
		_ = sd.cmd.Process.Kill()
		_ = sd.cmd.Wait()
		if err := m.startOne(ctx, sd); err != nil {
			log.Error().Err(err).Str("daemon", sd.daemon.Name()).Msg("daemon restart failed")
		}
	}
}
