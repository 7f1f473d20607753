// Package sidecar owns the Go-fallback sidecar process's lifecycle: spawn,
// periodic health probe, and restart-with-backoff, kept separate from the
// GoFallback proxy value itself (spec section 4.3) the same way the
// teacher keeps a long-running child process's supervision loop separate
// from the client that merely talks to its socket.
package sidecar

import (
	"context"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/relaycore/relayd/pkg/relog"
)

const (
	healthInterval = 5 * time.Second
	minBackoff     = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// AlivenessSink is flipped by the manager as the sidecar comes up or goes
// down; the GoFallback proxy registers itself as the sink for its process.
type AlivenessSink interface {
	SetAlive(bool)
}

// Manager spawns command on first use and keeps it alive, probing
// endpoint's TCP reachability every healthInterval and restarting the
// process with exponential backoff (capped at maxBackoff) if it exits or
// stops answering.
type Manager struct {
	Command  string
	Args     []string
	Endpoint string // host:port the sidecar listens on once up
	Sink     AlivenessSink

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// Start spawns the process and launches its supervision loop exactly
// once; subsequent calls are no-ops, matching the "spawn on first
// fallback proxy" rule.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.superviseLoop(runCtx)
}

// Stop tears down the sidecar and its supervision loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) superviseLoop(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		exited := make(chan error, 1)
		cmd, err := m.spawn(ctx)
		if err != nil {
			relog.Errorf(ctx, "sidecar: spawn failed: %v", err)
			m.setAlive(false)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		go func() { exited <- cmd.Wait() }()

		if m.waitHealthy(ctx) {
			backoff = minBackoff
			m.setAlive(true)
			m.probeLoop(ctx, exited)
		}
		m.setAlive(false)

		select {
		case <-ctx.Done():
			return
		case <-exited:
		default:
			// still running but unhealthy: stop it before spawning a replacement
			_ = cmd.Process.Kill()
			<-exited
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (m *Manager) spawn(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, m.Command, m.Args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// waitHealthy polls the endpoint until it accepts a TCP connection or the
// context is canceled, giving a freshly spawned process time to bind its
// listener before the regular health-probe cadence takes over.
func (m *Manager) waitHealthy(ctx context.Context) bool {
	deadline := time.Now().Add(healthInterval)
	for time.Now().Before(deadline) {
		if m.probe() {
			return true
		}
		if !sleepOrDone(ctx, 200*time.Millisecond) {
			return false
		}
	}
	return m.probe()
}

func (m *Manager) probeLoop(ctx context.Context, exited <-chan error) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-exited:
			relog.Errorf(ctx, "sidecar: process exited: %v", err)
			return
		case <-ticker.C:
			if !m.probe() {
				relog.Warnf(ctx, "sidecar: health probe failed, restarting")
				return
			}
		}
	}
}

func (m *Manager) probe() bool {
	conn, err := net.DialTimeout("tcp", m.Endpoint, 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Manager) setAlive(alive bool) {
	if m.Sink != nil {
		m.Sink.SetAlive(alive)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
