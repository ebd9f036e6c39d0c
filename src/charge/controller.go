package charge

import (
	"log"
	"sync"
	"time"
)

const (
	DefaultRecheckInterval = 5000 * time.Millisecond
	DefaultPendingWindow   = 1000 * time.Millisecond
	DefaultStartDelay      = 500 * time.Millisecond
)

// ChargerSwitch commands the charge-enable control point.
// Implementations must not block on I/O; writes are fire-and-forget.
type ChargerSwitch interface {
	SetChargerEnabled(enabled bool)
}

// PlugProbe reports whether external power is present.
type PlugProbe interface {
	IsPlugged() bool
}

// StatsResetter clears accumulated battery statistics.
type StatsResetter interface {
	ResetStats()
}

// Sampler reads the current battery sample on demand.
type Sampler interface {
	ReadSample() (BatterySample, error)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay on its own goroutines.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options wires the controller to its collaborators.
// Switch and Probe are required; everything else has a default.
type Options struct {
	Switch        ChargerSwitch
	Probe         PlugProbe
	StatsResetter StatsResetter
	Sampler       Sampler
	Scheduler     Scheduler
	Now           func() time.Time

	RecheckInterval time.Duration
	PendingWindow   time.Duration
	StartDelay      time.Duration
}

// recheck is a scheduled plug verification. It is only acted on while the
// controller is still in the generation it was scheduled in.
type recheck struct {
	trigger    ControlState
	generation uint64
	repeat     bool
}

type subscription struct {
	id uint64
	fn func(Transition)
}

// Controller is the battery charge state machine.
type Controller struct {
	opts Options

	mu         sync.Mutex
	active     bool
	control    ControlState
	connection ConnectionState
	changedAt  time.Time
	generation uint64
	cfg        Configuration
	sample     BatterySample
	haveSample bool
	timers     map[uint64]Timer
	nextTimer  uint64
	subs       []subscription
	nextSub    uint64
	pending    []Transition
	delivering bool
}

// NewController creates a stopped controller in Unknown/Unknown.
func NewController(cfg Configuration, opts Options) *Controller {
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecheckInterval <= 0 {
		opts.RecheckInterval = DefaultRecheckInterval
	}
	if opts.PendingWindow <= 0 {
		opts.PendingWindow = DefaultPendingWindow
	}
	if opts.StartDelay <= 0 {
		opts.StartDelay = DefaultStartDelay
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("charge: configuration problem, continuing anyway: %v\n", err)
	}
	return &Controller{
		opts:   opts,
		cfg:    cfg,
		timers: make(map[uint64]Timer),
	}
}

// Subscribe registers fn for every accepted transition. The returned func releases it.
func (c *Controller) Subscribe(fn func(Transition)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscription{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Start activates the controller. After StartDelay it checks the plug state and
// connects if external power is present.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	log.Println("charge: controller started")
	c.scheduleLocked(c.opts.StartDelay, c.startupCheck)
	c.mu.Unlock()
}

func (c *Controller) startupCheck() {
	if !c.Status().Active {
		return
	}
	if c.opts.Probe.IsPlugged() {
		// A connect event may have arrived before Start; it did not evaluate then.
		if !c.SetConnectionState(Connected) {
			c.mu.Lock()
			c.reevaluateLocked()
			c.unlockAndNotify()
		}
	} else {
		log.Println("charge: not plugged in at startup, waiting for power")
	}
}

// Stop force-enables the charger, resets both states to Unknown and cancels every
// scheduled callback.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.active
	c.active = false
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.connection = ConnectionUnknown
	if !c.transitionLocked(StateUnknown) {
		c.opts.Switch.SetChargerEnabled(true)
	}
	c.generation++
	if wasActive {
		log.Println("charge: controller stopped, charger enabled")
	}
	c.unlockAndNotify()
}

// Close stops the controller and releases every subscription.
func (c *Controller) Close() {
	c.Stop()
	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()
}

// Handle dispatches a typed event.
func (c *Controller) Handle(ev Event) {
	switch ev := ev.(type) {
	case SampleEvent:
		c.Evaluate(ev.Sample)
	case ConnectionEvent:
		if ev.Connected {
			c.SetConnectionState(Connected)
		} else {
			c.powerDisconnected()
		}
	case OverrideEvent:
		c.Override(ev.Kind)
	case ConfigEvent:
		c.ApplyConfig(ev)
	default:
		log.Printf("charge: ignoring unknown event %T\n", ev)
	}
}

// Evaluate records the sample and runs the transition rules against it.
func (c *Controller) Evaluate(sample BatterySample) {
	c.mu.Lock()
	c.sample = sample
	c.haveSample = true
	c.reevaluateLocked()
	c.unlockAndNotify()
}

// SetConnectionState replaces the connection state. Connected triggers an immediate
// evaluation; anything else resets the control state to Unknown.
func (c *Controller) SetConnectionState(next ConnectionState) bool {
	var fresh BatterySample
	haveFresh := false
	if next == Connected && c.opts.Sampler != nil {
		s, err := c.opts.Sampler.ReadSample()
		if err != nil {
			log.Printf("charge: reading battery sample: %v\n", err)
		} else {
			fresh, haveFresh = s, true
		}
	}

	c.mu.Lock()
	if haveFresh {
		c.sample = fresh
		c.haveSample = true
	}
	changed := c.setConnectionLocked(next)
	c.unlockAndNotify()
	return changed
}

func (c *Controller) powerDisconnected() {
	c.mu.Lock()
	if c.changePendingLocked() {
		log.Printf("charge: ignoring power disconnect during %s change\n", c.control)
		// Disabled and Unknown have no recheck of their own, so verify the plug once the window closes.
		c.scheduleDisconnectCheckLocked()
		c.mu.Unlock()
		return
	}
	c.setConnectionLocked(Disconnected)
	c.unlockAndNotify()
}

func (c *Controller) scheduleDisconnectCheckLocked() {
	c.scheduleLocked(c.opts.PendingWindow, c.confirmDisconnect)
}

// confirmDisconnect probes the plug after an ignored disconnect and applies it if power is gone.
func (c *Controller) confirmDisconnect() {
	c.mu.Lock()
	if !c.active || c.connection != Connected {
		c.mu.Unlock()
		return
	}
	if c.changePendingLocked() {
		c.scheduleDisconnectCheckLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.opts.Probe.IsPlugged() {
		return
	}

	c.mu.Lock()
	if !c.active || c.connection != Connected {
		c.mu.Unlock()
		return
	}
	log.Printf("charge: ignored disconnect confirmed while in %s\n", c.control)
	c.unpluggedLocked(c.control)
	c.unlockAndNotify()
}

// unpluggedLocked disconnects, resetting battery stats if the limit had been reached.
func (c *Controller) unpluggedLocked(from ControlState) {
	c.setConnectionLocked(Disconnected)
	if from == StateStop && c.cfg.AutoResetStatsOnFull && c.opts.StatsResetter != nil {
		log.Println("charge: limit was reached, resetting battery stats")
		c.opts.StatsResetter.ResetStats()
	}
}

// ForceStop moves Charging or Boost to StopForced.
func (c *Controller) ForceStop() bool { return c.Override(OverrideStop) }

// ForceCharge moves StopForced to Charging.
func (c *Controller) ForceCharge() bool { return c.Override(OverrideCharge) }

// ForceBoost moves Stop, StopForced or Charging to Boost.
func (c *Controller) ForceBoost() bool { return c.Override(OverrideBoost) }

// Override applies a user override. Overrides from states they do not apply to are no-ops.
func (c *Controller) Override(kind OverrideKind) bool {
	c.mu.Lock()
	var next ControlState
	allowed := false
	switch kind {
	case OverrideStop:
		next = StateStopForced
		allowed = c.control == StateCharging || c.control == StateBoost
	case OverrideCharge:
		next = StateCharging
		allowed = c.control == StateStopForced
	case OverrideBoost:
		next = StateBoost
		allowed = c.control == StateStop || c.control == StateStopForced || c.control == StateCharging
	}
	if !allowed {
		log.Printf("charge: override %s not applicable in %s\n", kind, c.control)
		c.mu.Unlock()
		return false
	}
	changed := c.transitionLocked(next)
	c.unlockAndNotify()
	return changed
}

// ApplyConfig installs a new configuration. A threshold change restarts from Unknown;
// enabled, limit and threshold changes are re-evaluated against the last sample.
func (c *Controller) ApplyConfig(ev ConfigEvent) {
	c.mu.Lock()
	c.cfg = ev.Config
	log.Printf("charge: configuration %s changed (limit=%d threshold=%d enabled=%v auto-reset=%v)\n",
		ev.Field, ev.Config.LimitPercent, ev.Config.RechargeThresholdPercent,
		ev.Config.Enabled, ev.Config.AutoResetStatsOnFull)
	if err := ev.Config.Validate(); err != nil {
		log.Printf("charge: configuration problem, levels may flap: %v\n", err)
	}
	switch ev.Field {
	case FieldRechargeThreshold:
		if c.control != StateDisabled {
			c.transitionLocked(StateUnknown)
		}
		c.reevaluateLocked()
	case FieldEnabled, FieldLimit:
		c.reevaluateLocked()
	}
	c.unlockAndNotify()
}

// State returns the current control state.
func (c *Controller) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

// Connection returns the current connection state.
func (c *Controller) Connection() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// ChangePending reports whether the last transition is within the pending window.
func (c *Controller) ChangePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changePendingLocked()
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Active:        c.active,
		Control:       c.control,
		Connection:    c.connection,
		ChangedAt:     c.changedAt,
		ChangePending: c.changePendingLocked(),
		Config:        c.cfg,
		LastSample:    c.sample,
		HaveSample:    c.haveSample,
	}
}

// setControlState is the guarded compare-and-replace entry point.
func (c *Controller) setControlState(next ControlState) bool {
	c.mu.Lock()
	changed := c.transitionLocked(next)
	c.unlockAndNotify()
	return changed
}

func (c *Controller) changePendingLocked() bool {
	return c.opts.Now().Sub(c.changedAt) < c.opts.PendingWindow
}

func (c *Controller) setConnectionLocked(next ConnectionState) bool {
	if next == c.connection {
		return false
	}
	prev := c.connection
	c.connection = next
	log.Printf("charge: connection %s -> %s\n", prev, next)
	if next == Connected {
		c.reevaluateLocked()
	} else {
		c.transitionLocked(StateUnknown)
	}
	return true
}

// reevaluateLocked runs the rules if the controller is active and connected.
func (c *Controller) reevaluateLocked() {
	if !c.active || c.connection != Connected {
		return
	}
	if !c.cfg.Enabled {
		c.transitionLocked(StateDisabled)
		return
	}
	if !c.haveSample {
		return
	}
	c.evaluateLocked(c.sample)
}

func (c *Controller) evaluateLocked(s BatterySample) {
	if c.control == StateDisabled {
		c.transitionLocked(StateUnknown)
	}

	switch c.control {
	case StateUnknown:
		if s.LevelPercent > c.cfg.RechargeThresholdPercent {
			c.transitionLocked(StateStop)
		} else {
			c.transitionLocked(StateCharging)
		}
	case StateStop:
		if s.LevelPercent <= c.cfg.RechargeThresholdPercent {
			c.transitionLocked(StateCharging)
		}
	case StateCharging:
		if s.LevelPercent >= c.cfg.LimitPercent {
			c.transitionLocked(StateStop)
		}
	case StateBoost:
		if !s.IsCharging && !c.changePendingLocked() {
			c.transitionLocked(StateStop)
		}
	}
}

// transitionLocked replaces the control state and performs its side effects.
func (c *Controller) transitionLocked(next ControlState) bool {
	if next == c.control {
		return false
	}
	prev := c.control
	c.control = next
	c.changedAt = c.opts.Now()
	c.generation++

	enabled := next.ChargerEnabled()
	c.opts.Switch.SetChargerEnabled(enabled)
	log.Printf("charge: %s -> %s (charger enabled: %v)\n", prev, next, enabled)

	switch next {
	case StateStop:
		c.scheduleRecheckLocked(next, true)
	case StateStopForced, StateCharging, StateBoost:
		c.scheduleRecheckLocked(next, false)
	}

	c.pending = append(c.pending, Transition{
		From:       prev,
		To:         next,
		At:         c.changedAt,
		Connection: c.connection,
		Sample:     c.sample,
		HaveSample: c.haveSample,
	})
	return true
}

func (c *Controller) scheduleLocked(d time.Duration, fn func()) {
	c.nextTimer++
	id := c.nextTimer
	c.timers[id] = c.opts.Scheduler.AfterFunc(d, func() {
		c.mu.Lock()
		_, live := c.timers[id]
		delete(c.timers, id)
		c.mu.Unlock()
		if live {
			fn()
		}
	})
}

func (c *Controller) scheduleRecheckLocked(trigger ControlState, repeat bool) {
	r := recheck{trigger: trigger, generation: c.generation, repeat: repeat}
	c.scheduleLocked(c.opts.RecheckInterval, func() { c.runRecheck(r) })
}

func (c *Controller) recheckCurrentLocked(r recheck) bool {
	return c.active && c.generation == r.generation && c.control == r.trigger
}

func (c *Controller) runRecheck(r recheck) {
	c.mu.Lock()
	current := c.recheckCurrentLocked(r)
	c.mu.Unlock()
	if !current {
		return
	}

	plugged := c.opts.Probe.IsPlugged()

	c.mu.Lock()
	if !c.recheckCurrentLocked(r) {
		c.mu.Unlock()
		return
	}
	if plugged {
		if r.repeat {
			c.scheduleRecheckLocked(r.trigger, true)
		}
		c.mu.Unlock()
		return
	}

	log.Printf("charge: power supply gone while in %s\n", r.trigger)
	c.unpluggedLocked(r.trigger)
	c.unlockAndNotify()
}

// unlockAndNotify releases mu and delivers queued transitions to subscribers.
// Only one goroutine delivers at a time and it drains the queue in order, so
// subscribers never run with mu held and never see transitions out of order.
func (c *Controller) unlockAndNotify() {
	if c.delivering || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		subs := make([]subscription, len(c.subs))
		copy(subs, c.subs)
		c.mu.Unlock()

		for _, t := range batch {
			for _, s := range subs {
				s.fn(t)
			}
		}

		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}
