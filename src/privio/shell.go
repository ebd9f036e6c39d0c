// Package privio runs privileged commands and touches root-owned control files.
package privio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultShellCommand is prefixed to every script run by RootShell.
	DefaultShellCommand = "su -c"
	FlushTimeout        = 5 * time.Second
)

var ErrShellClosed = errors.New("root shell closed")

// Shell executes shell scripts with elevated privileges.
type Shell interface {
	// Run executes a script and returns its stdout split into lines.
	Run(ctx context.Context, script string) ([]string, error)
	// Queue schedules scripts to run as one batch after every previously queued batch.
	// It never blocks.
	Queue(scripts ...string)
}

// RootShell runs scripts through a command such as "su -c".
// Queued batches are executed in order by Serve.
type RootShell struct {
	argv []string

	mu      sync.Mutex
	pending [][]string
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewRootShell creates a shell that runs scripts as `<command> <script>`.
func NewRootShell(command string) *RootShell {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		argv = strings.Fields(DefaultShellCommand)
	}
	return &RootShell{
		argv: argv,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *RootShell) command(ctx context.Context, script string) *exec.Cmd {
	args := append(append([]string(nil), s.argv[1:]...), script)
	return exec.CommandContext(ctx, s.argv[0], args...)
}

func (s *RootShell) Run(ctx context.Context, script string) ([]string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrShellClosed
	}
	return s.exec(ctx, script)
}

func (s *RootShell) exec(ctx context.Context, script string) ([]string, error) {
	cmd := s.command(ctx, script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %q: %w", script, err)
		}
		return nil, fmt.Errorf("run %q: %w: %s", script, err, msg)
	}
	return splitLines(stdout.String()), nil
}

func (s *RootShell) Queue(scripts ...string) {
	if len(scripts) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("privio: shell closed, dropping %q\n", strings.Join(scripts, "; "))
		return
	}
	s.pending = append(s.pending, append([]string(nil), scripts...))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Serve executes queued batches one at a time until ctx is cancelled. Batches still
// pending at cancellation get up to FlushTimeout to run, so a final charger write
// queued during shutdown is not lost.
func (s *RootShell) Serve(ctx context.Context) {
	log.Println("privio: root shell worker started")
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
		defer cancel()
		s.drain(flushCtx)

		s.mu.Lock()
		dropped := len(s.pending)
		s.pending = nil
		if !s.closed {
			s.closed = true
			close(s.done)
		}
		s.mu.Unlock()
		if dropped > 0 {
			log.Printf("privio: dropped %d queued batches on shutdown\n", dropped)
		}
		log.Println("privio: root shell worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

// Done is closed once Serve has returned and the shell refuses further work.
func (s *RootShell) Done() <-chan struct{} {
	return s.done
}

func (s *RootShell) drain(ctx context.Context) {
	for ctx.Err() == nil {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		script := strings.Join(batch, "; ")
		if _, err := s.exec(ctx, script); err != nil {
			log.Printf("privio: queued command failed: %v\n", err)
		}
	}
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// quote wraps s in single quotes for use as one shell word.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
