package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/settings"
)

const defaultHistoryEntries = 10

// ANSI color codes for highlighting transitions
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// readlineWriter wraps output to work with readline
type readlineWriter struct {
	rl  *readline.Instance
	out io.Writer
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = w.out.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{out: os.Stderr}

func printf(out io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(out, format+"\n", args...)
}

func printStatus(out io.Writer, st charge.Status) {
	n := notificationFor(st.Control)
	printf(out, "state:      %s", st.Control)
	if n.Visible {
		printf(out, "            %q", n.Text)
	}
	printf(out, "connection: %s", st.Connection)
	if st.HaveSample {
		printf(out, "battery:    %d%% (charging: %v)", st.LastSample.LevelPercent, st.LastSample.IsCharging)
	} else {
		printf(out, "battery:    no sample yet")
	}
	if !st.ChangedAt.IsZero() {
		printf(out, "changed:    %s ago", time.Since(st.ChangedAt).Round(time.Second))
	}
	if st.ChangePending {
		printf(out, "            change pending")
	}
}

func printConfig(out io.Writer, values map[string]string, cfg charge.Configuration) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printf(out, "  %-28s %s", k, values[k])
	}
	if err := cfg.Validate(); err != nil {
		printf(out, "  warning: %v", err)
	}
}

// handleConsoleCommand processes one console line
func handleConsoleCommand(ctx context.Context, line string, c *Commander, out io.Writer) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "status":
		printStatus(out, c.Status())
		printf(out, "charger:    %s", c.ChargerFile())

	case "stop", "charge", "boost":
		kind, _ := charge.ParseOverrideKind(parts[0])
		if err := c.Override(ctx, kind); err != nil {
			printf(out, "Error: %v", err)
			return
		}
		printf(out, "Requested %s", kind)

	case "set":
		if len(parts) != 3 {
			printf(out, "Usage: set <key> <value>")
			return
		}
		cfg, err := c.SetConfig(ctx, parts[1], parts[2])
		if err != nil {
			printf(out, "Error: %v", err)
			return
		}
		printConfig(out, settings.Format(cfg), cfg)

	case "config":
		printConfig(out, c.Values(), c.Configuration())

	case "history":
		n := defaultHistoryEntries
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v <= 0 {
				printf(out, "Usage: history [n]")
				return
			}
			n = v
		}
		entries, err := c.History(n)
		if err != nil {
			printf(out, "Error: %v", err)
			return
		}
		if len(entries) == 0 {
			printf(out, "No transitions recorded")
			return
		}
		for _, e := range entries {
			level := "?"
			if e.Level >= 0 {
				level = strconv.Itoa(e.Level) + "%"
			}
			printf(out, "%s  %-11s -> %-11s  %-12s %s",
				e.At.Local().Format("2006-01-02 15:04:05"), e.From, e.To, e.Connection, level)
		}

	case "help":
		printf(out, "Commands:")
		printf(out, "  status                 - Show controller state")
		printf(out, "  stop                   - Stop charging until resumed")
		printf(out, "  charge                 - Resume after a stop")
		printf(out, "  boost                  - Charge past the limit")
		printf(out, "  set <key> <value>      - Change a setting")
		printf(out, "  config                 - Show settings")
		printf(out, "  history [n]            - Show the last n transitions")
		printf(out, "  help                   - Show this help")
		keys := make([]string, 0, len(charge.ConfigFields))
		for _, f := range charge.ConfigFields {
			keys = append(keys, f.Key())
		}
		printf(out, "Settings: %s", strings.Join(keys, ", "))

	default:
		printf(out, "Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	chargectlCache := filepath.Join(cacheDir, "chargectl")
	_ = os.MkdirAll(chargectlCache, 0750)
	return filepath.Join(chargectlCache, "console_history")
}

// consoleWorker provides an interactive override console and echoes transitions
func consoleWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	commander *Commander,
	transitions <-chan charge.Transition,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "chargectl> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Console: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil // Clear readline reference on exit
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)
	out := &readlineWriter{rl: rl, out: os.Stdout}

	log.Println("Console started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case line := <-commandChan:
			handleConsoleCommand(ctx, line, commander, out)
		case t := <-transitions:
			printf(out, "%s%s -> %s%s", ansiYellow, t.From, t.To, ansiReset)
		case <-ctx.Done():
			log.Println("Console stopped")
			return
		}
	}
}
