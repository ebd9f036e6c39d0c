package charge

import (
	"errors"
	"sync"
	"time"
)

type fakeSwitch struct {
	mu     sync.Mutex
	writes []bool
}

func (f *fakeSwitch) SetChargerEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, enabled)
}

func (f *fakeSwitch) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

func (f *fakeSwitch) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeSwitch) Last() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[len(f.writes)-1]
}

type fakeProbe struct {
	mu      sync.Mutex
	plugged bool
	calls   int
}

func (f *fakeProbe) IsPlugged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.plugged
}

func (f *fakeProbe) Set(plugged bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugged = plugged
}

type fakeResetter struct {
	mu    sync.Mutex
	count int
}

func (f *fakeResetter) ResetStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func (f *fakeResetter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeSampler struct {
	sample BatterySample
	err    error
}

func (f *fakeSampler) ReadSample() (BatterySample, error) {
	return f.sample, f.err
}

var errNoBattery = errors.New("no battery")

// fakeClock is advanced manually.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeScheduler records callbacks; tests fire them explicitly.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTimer
}

type fakeTimer struct {
	sched   *fakeScheduler
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	wasLive := !t.stopped && !t.fired
	t.stopped = true
	return wasLive
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, delay: d, fn: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Live returns timers that have neither fired nor been stopped.
func (s *fakeScheduler) Live() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*fakeTimer
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	return live
}

// claim marks t fired, reporting whether it was still live.
// Callbacks run without s.mu held since they schedule new timers.
func (s *fakeScheduler) claim(t *fakeTimer, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && (t.stopped || t.fired) {
		return false
	}
	t.fired = true
	return true
}

// FireLive fires timers that are still live at call time, one at a time.
func (s *fakeScheduler) FireLive() int {
	n := 0
	for _, t := range s.Live() {
		if !s.claim(t, false) {
			continue
		}
		t.fn()
		n++
	}
	return n
}

// FireRaw runs a timer's callback even if it was stopped.
func (s *fakeScheduler) FireRaw(t *fakeTimer) {
	s.claim(t, true)
	t.fn()
}

type harness struct {
	ctl      *Controller
	sw       *fakeSwitch
	probe    *fakeProbe
	resetter *fakeResetter
	sched    *fakeScheduler
	clock    *fakeClock
	seen     []Transition
	seenMu   sync.Mutex
}

func newHarness(cfg Configuration) *harness {
	h := &harness{
		sw:       &fakeSwitch{},
		probe:    &fakeProbe{plugged: true},
		resetter: &fakeResetter{},
		sched:    &fakeScheduler{},
		clock:    newFakeClock(),
	}
	h.ctl = NewController(cfg, Options{
		Switch:        h.sw,
		Probe:         h.probe,
		StatsResetter: h.resetter,
		Scheduler:     h.sched,
		Now:           h.clock.Now,
	})
	h.ctl.Subscribe(func(t Transition) {
		h.seenMu.Lock()
		defer h.seenMu.Unlock()
		h.seen = append(h.seen, t)
	})
	return h
}

// connected starts the controller and runs the startup plug check.
func (h *harness) connected() *harness {
	h.ctl.Start()
	h.sched.FireLive()
	return h
}

func (h *harness) sample(level int, charging bool) {
	h.ctl.Evaluate(BatterySample{LevelPercent: level, IsCharging: charging, At: h.clock.Now()})
}

func (h *harness) states() []ControlState {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	out := make([]ControlState, 0, len(h.seen))
	for _, t := range h.seen {
		out = append(out, t.To)
	}
	return out
}

func enabledConfig() Configuration {
	return Configuration{
		LimitPercent:             80,
		RechargeThresholdPercent: 75,
		Enabled:                  true,
		AutoResetStatsOnFull:     true,
	}
}
