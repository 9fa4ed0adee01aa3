package overlay

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultDismissDelay is how long a command-opened panel stays up without
// further activity before it auto-hides.
const DefaultDismissDelay = 8 * time.Second

// PanelKey identifies the currently visible overlay panel, or none.
type PanelKey int

const (
	PanelNone PanelKey = iota
	PanelWelcome
	PanelAmbassadors
	PanelSettings
)

// String returns the wire name used in API payloads and SSE events.
func (p PanelKey) String() string {
	switch p {
	case PanelNone:
		return "none"
	case PanelWelcome:
		return "welcome"
	case PanelAmbassadors:
		return "ambassadors"
	case PanelSettings:
		return "settings"
	default:
		return "none"
	}
}

// ParsePanelKey maps a wire name back to a PanelKey. Unknown names map to
// PanelNone with ok=false.
func ParsePanelKey(s string) (PanelKey, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return PanelNone, true
	case "welcome":
		return PanelWelcome, true
	case "ambassadors":
		return PanelAmbassadors, true
	case "settings":
		return PanelSettings, true
	}
	return PanelNone, false
}

// MarshalJSON emits the wire name rather than the numeric value.
func (p PanelKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts a wire name.
func (p *PanelKey) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	k, ok := ParsePanelKey(s)
	if !ok {
		return fmt.Errorf("unknown panel %q", s)
	}
	*p = k
	return nil
}

// Cause records what triggered a state change, for subscribers and metrics.
type Cause string

const (
	CauseCommand      Cause = "command"
	CauseTimer        Cause = "timer"
	CauseOutsideClick Cause = "outside_click"
	CausePanelButton  Cause = "panel_button"
)

// StateChange is delivered to subscribers on every panel mutation.
type StateChange struct {
	Panel      PanelKey      `json:"panel"`
	Ambassador string        `json:"ambassador,omitempty"`
	Cause      Cause         `json:"cause"`
	WakeFor    time.Duration `json:"-"`
	At         time.Time     `json:"at"`
}

// Resolver reports whether a normalized command token names a known
// ambassador. Backed by the catalog package in production.
type Resolver interface {
	IsKnownAmbassador(key string) bool
}

// Waker keeps the surrounding display awake (non-dimmed) for a duration.
// The production implementation relays the request to the frontend over the
// event stream; tests substitute a recorder.
type Waker interface {
	Wake(d time.Duration)
}

// NopWaker is a Waker that does nothing. Useful when no display-dim
// integration is configured.
type NopWaker struct{}

func (NopWaker) Wake(time.Duration) {}

// Surface describes one UI layer under a click point, topmost first.
// Content marks surfaces that belong to overlay content; a click landing on
// any content surface is "inside" and never dismisses the panel.
type Surface struct {
	ID      string `json:"id"`
	Content bool   `json:"content"`
}

// Options configures a Controller.
type Options struct {
	// DismissDelay overrides DefaultDismissDelay when > 0.
	DismissDelay time.Duration
	// Disabled turns OnCommand into a no-op (feature kill switch).
	Disabled bool
	// Resolver decides ambassador-command matches. Required.
	Resolver Resolver
	// Waker receives wake requests alongside each accepted command.
	// Defaults to NopWaker.
	Waker Waker
}

// Controller owns the visible-panel state and the single auto-dismiss timer.
type Controller struct {
	mu         sync.Mutex
	panel      PanelKey
	ambassador string
	awakening  bool
	delay      time.Duration
	disabled   bool
	closed     bool

	// timerSeq guards against a stale AfterFunc callback that lost the
	// Stop race: only the callback holding the current sequence may fire.
	timer    *time.Timer
	timerSeq uint64

	resolver Resolver
	waker    Waker

	subs    map[int]func(StateChange)
	nextSub int
}

// NewController builds a Controller. The panel starts hidden and no timer
// is pending.
func NewController(opts Options) *Controller {
	delay := opts.DismissDelay
	if delay <= 0 {
		delay = DefaultDismissDelay
	}
	waker := opts.Waker
	if waker == nil {
		waker = NopWaker{}
	}
	return &Controller{
		panel:    PanelNone,
		delay:    delay,
		disabled: opts.Disabled,
		resolver: opts.Resolver,
		waker:    waker,
		subs:     make(map[int]func(StateChange)),
	}
}

// State returns the current panel and, when an ambassador card is up, the
// key of the ambassador being shown.
func (c *Controller) State() (PanelKey, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel, c.ambassador
}

// DismissDelay returns the configured auto-dismiss delay.
func (c *Controller) DismissDelay() time.Duration { return c.delay }

// Subscribe registers fn to receive every subsequent state change and
// returns an id for Unsubscribe. Callbacks run outside the controller lock
// and must not block for long; the SSE handler hands off to a channel.
func (c *Controller) Subscribe(fn func(StateChange)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return id
}

// Unsubscribe removes a previously registered listener. Unknown ids are a
// no-op, so double-unsubscribe on teardown is safe.
func (c *Controller) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// OnCommand handles one chat command token. The token must already be
// normalized (see catalog.NormalizeCommand): lowercase, no prefix sigil.
//
// A known ambassador key opens the ambassador card; the literal "welcome"
// opens the welcome panel; anything else is ignored without touching the
// pending dismiss timer. Accepted commands re-arm the dismiss timer and ask
// the Waker to keep the display awake for the same window.
//
// Reports whether the command was accepted, i.e. a panel actually opened.
// Unrecognized tokens, a closed controller, and the disabled kill switch all
// report false so callers do not count or audit commands that had no effect.
func (c *Controller) OnCommand(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}

	c.mu.Lock()
	if c.closed || c.disabled {
		c.mu.Unlock()
		return false
	}
	switch {
	case c.resolver != nil && c.resolver.IsKnownAmbassador(command):
		c.panel = PanelAmbassadors
		c.ambassador = command
	case command == "welcome":
		c.panel = PanelWelcome
		c.ambassador = ""
	default:
		// Public chat sends arbitrary text; unrecognized commands are
		// dropped silently with no state or timer change.
		c.mu.Unlock()
		return false
	}
	c.armDismissLocked()
	c.awakening = true
	change := c.changeLocked(CauseCommand)
	change.WakeFor = c.delay
	subs := c.subscribersLocked()
	c.mu.Unlock()

	c.waker.Wake(change.WakeFor)
	notify(subs, change)
	return true
}

// OnInteraction handles a "user touched the overlay surface" event.
//
// The first interaction after a command wake is the wake's own side effect
// and is swallowed; any later interaction cancels the pending dismiss so
// the panel stays up while someone is reading it. Reports whether the
// pending dismiss was cancelled.
func (c *Controller) OnInteraction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.awakening {
		c.awakening = false
		return false
	}
	return c.cancelDismissLocked()
}

// OnOutsideClick inspects the surfaces under a click point, topmost first.
// If the click landed on overlay content it is ignored; otherwise the panel
// hides immediately, independent of the dismiss timer. Reports whether the
// panel was dismissed.
func (c *Controller) OnOutsideClick(surfaces []Surface) bool {
	for _, s := range surfaces {
		if s.Content {
			return false
		}
	}

	c.mu.Lock()
	if c.closed || c.panel == PanelNone {
		c.mu.Unlock()
		return false
	}
	c.cancelDismissLocked()
	c.panel = PanelNone
	c.ambassador = ""
	change := c.changeLocked(CauseOutsideClick)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, change)
	return true
}

// SetPanel is the explicit panel-button collaborator: it sets the panel
// directly (e.g. the settings button) and cancels any pending dismiss,
// since the button press is itself an interaction.
func (c *Controller) SetPanel(p PanelKey) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelDismissLocked()
	c.panel = p
	if p != PanelAmbassadors {
		c.ambassador = ""
	}
	change := c.changeLocked(CausePanelButton)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, change)
}

// Close cancels any pending dismiss timer and drops all subscribers.
// A timer callback that already fired its AfterFunc but has not taken the
// lock yet becomes a no-op. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelDismissLocked()
	c.subs = make(map[int]func(StateChange))
}

// armDismissLocked replaces any pending dismiss timer with a fresh one.
// Caller holds c.mu.
func (c *Controller) armDismissLocked() {
	c.cancelDismissLocked()
	c.timerSeq++
	seq := c.timerSeq
	c.timer = time.AfterFunc(c.delay, func() { c.fireDismiss(seq) })
}

// cancelDismissLocked stops the pending timer, if any, reporting whether one
// was pending. Bumping timerSeq invalidates a callback that raced past Stop.
// Caller holds c.mu.
func (c *Controller) cancelDismissLocked() bool {
	had := c.timer != nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	return had
}

// fireDismiss is the dismiss timer callback.
func (c *Controller) fireDismiss(seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.timerSeq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.panel = PanelNone
	c.ambassador = ""
	c.awakening = false
	change := c.changeLocked(CauseTimer)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	slog.Debug("overlay dismissed by timer")
	notify(subs, change)
}

func (c *Controller) changeLocked(cause Cause) StateChange {
	return StateChange{
		Panel:      c.panel,
		Ambassador: c.ambassador,
		Cause:      cause,
		At:         time.Now().UTC(),
	}
}

func (c *Controller) subscribersLocked() []func(StateChange) {
	out := make([]func(StateChange), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(StateChange), change StateChange) {
	for _, fn := range subs {
		fn(change)
	}
}
