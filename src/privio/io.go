package privio

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

const (
	// DefaultStatsResetCommand clears the accumulated battery statistics.
	DefaultStatsResetCommand = "dumpsys batterystats --reset"

	listTimeout = 5 * time.Second
)

// IO performs best-effort privileged file access. Writes are queued on the shell,
// reads never fail.
type IO struct {
	shell Shell
}

func New(shell Shell) *IO {
	return &IO{shell: shell}
}

// WriteControlFile remounts path read-write and writes content to it, as one queued batch.
func (p *IO) WriteControlFile(path, content string) {
	p.shell.Queue(
		"mount -o rw,remount "+quote(path),
		"echo "+quote(content)+" > "+quote(path),
	)
}

// ReadControlFile returns the non-empty lines of path, or an empty slice if it
// cannot be read.
func (p *IO) ReadControlFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("privio: reading %s: %v\n", path, err)
		}
		return []string{}
	}
	lines := splitLines(string(data))
	if lines == nil {
		return []string{}
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}

// RunCommand queues a command on the root shell.
func (p *IO) RunCommand(command string) {
	p.shell.Queue(command)
}

// ListDirectories lists the immediate subdirectories of dir, following symlinks.
func (p *IO) ListDirectories(ctx context.Context, dir string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	lines, err := p.shell.Run(ctx, "find -L "+quote(dir)+" -mindepth 1 -maxdepth 1 -type d")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	dirs := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			dirs = append(dirs, l)
		}
	}
	return dirs, nil
}

// ChargerControl drives a sysfs charge-enable file.
type ChargerControl struct {
	io   *IO
	path string
}

func NewChargerControl(io *IO, path string) *ChargerControl {
	return &ChargerControl{io: io, path: path}
}

func (c *ChargerControl) SetChargerEnabled(enabled bool) {
	value := "0"
	if enabled {
		value = "1"
	}
	c.io.WriteControlFile(c.path, value)
}

// Enabled reads back the control file. ok is false if it holds no recognisable value.
func (c *ChargerControl) Enabled() (enabled, ok bool) {
	lines := c.io.ReadControlFile(c.path)
	if len(lines) == 0 {
		return false, false
	}
	switch lines[0] {
	case "1":
		return true, true
	case "0":
		return false, true
	}
	return false, false
}

// StatsReset queues a battery statistics reset command.
type StatsReset struct {
	io      *IO
	command string
}

func NewStatsReset(io *IO, command string) *StatsReset {
	if command == "" {
		command = DefaultStatsResetCommand
	}
	return &StatsReset{io: io, command: command}
}

func (s *StatsReset) ResetStats() {
	s.io.RunCommand(s.command)
}
