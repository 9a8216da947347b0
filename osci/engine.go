// Package osci implements the triggered capture engine, the software
// oscilloscope behind the osci_* console commands. A periodic tick samples
// the configured parameter channels into a fixed ring buffer, a trigger
// condition splits the capture into pre- and post-trigger phases, and the
// finished window is read back in chronological per-channel order.
//
// The tick entry point is designed for a hard-periodic sampling goroutine:
// it allocates nothing, never blocks on I/O and does a bounded amount of
// work (one atomic read and one buffer push per channel). Command-context
// operations share a single short mutex with the tick path, so configuration
// can never mutate fields under an in-flight tick and a Start is always
// observed by the very next tick.
package osci

import (
	"errors"
	"fmt"
	"sync"

	"diagconsole/buffer"
	"diagconsole/trigger"
)

// State is the capture lifecycle state. Integer values are the protocol
// encoding reported by osci_state and osci_info.
type State uint8

const (
	Idle     State = 0
	Waiting  State = 1
	Sampling State = 2
	Done     State = 3
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Sampling:
		return "sampling"
	case Done:
		return "done"
	}
	return "unknown"
}

// Channel is one numeric value source sampled each tick. Float must be
// lock-free and allocation-free; param.Param satisfies this with an atomic
// bits read.
type Channel interface {
	ID() uint16
	Float() float32
}

// Resolver maps external channel IDs to value sources. Resolution happens at
// configure time only; a handle returned here must stay valid for the life of
// the engine.
type Resolver interface {
	Channel(id uint16) (Channel, bool)
}

// TriggerSpec is the trigger configuration set by osci_trigger.
type TriggerSpec struct {
	Kind       trigger.Kind
	Channel    uint16  // external ID of the trigger channel
	Threshold  float32
	Pretrigger float64 // fraction of the per-channel depth in [0,1]
}

const (
	// MinDownsample and MaxDownsample bound the osci_downsample factor.
	MinDownsample = 1
	MaxDownsample = 1000

	sampleBytes = 4 // float32 items
)

var (
	// ErrBusy rejects reconfiguration or re-start while Waiting/Sampling.
	ErrBusy = errors.New("osci: capture is running")
	// ErrNoChannels rejects start or trigger config without channels.
	ErrNoChannels = errors.New("osci: no channels configured")
	// ErrBadChannel rejects unresolved IDs or an out-of-range channel count.
	ErrBadChannel = errors.New("osci: invalid channel list")
	// ErrBadTrigger rejects an invalid trigger kind, channel or fraction.
	ErrBadTrigger = errors.New("osci: invalid trigger specification")
	// ErrBadRange rejects a downsample factor outside [1,1000].
	ErrBadRange = errors.New("osci: downsample factor out of range")
	// ErrNotReady rejects read-out before a capture completed.
	ErrNotReady = errors.New("osci: sampled data not available")
)

// captureLayout freezes the channel geometry at Start so a later
// reconfiguration in Done cannot skew the read-out of the finished window.
type captureLayout struct {
	numChans int
	depth    int
	ids      []uint16
}

// Engine is the capture state machine. One long-lived instance is owned by
// the application context; both the sampling tick and the command handlers
// receive it by reference.
type Engine struct {
	mu  sync.Mutex
	src Resolver

	ring        *buffer.Ring
	maxChannels int

	// configuration, mutable only in Idle/Done
	chans      []Channel
	chanIDs    []uint16
	depth      int // per-channel sample depth for the current channel list
	trig       TriggerSpec
	trigChan   Channel
	pretrigN   int // round(Pretrigger * depth)
	downsample int

	// sampling progress
	state       State
	downCnt     int
	pretrigSeen int
	remaining   int
	prev        float32
	hasPrev     bool
	cap         captureLayout

	doneCh chan struct{}
}

// New binds a capture engine to its fixed backing store. totalBytes is the
// sample buffer size in bytes (float32 items); maxChannels bounds the channel
// list. Allocation happens once here, never on the tick path.
func New(src Resolver, totalBytes, maxChannels int) (*Engine, error) {
	if src == nil {
		return nil, errors.New("osci: nil channel resolver")
	}
	if maxChannels <= 0 {
		return nil, errors.New("osci: max channels must be > 0")
	}
	ring, err := buffer.New(totalBytes / sampleBytes)
	if err != nil {
		return nil, fmt.Errorf("osci: bind sample buffer (%d bytes): %w", totalBytes, err)
	}
	return &Engine{
		src:         src,
		ring:        ring,
		maxChannels: maxChannels,
		downsample:  MinDownsample,
		doneCh:      make(chan struct{}, 1),
	}, nil
}

// Completed signals once per capture transition into Done. The send is
// non-blocking on the tick side; a slow consumer coalesces completions.
func (e *Engine) Completed() <-chan struct{} {
	return e.doneCh
}

// ConfigureChannels replaces the channel list. Every ID must resolve and
// 0 < len(ids) <= maxChannels; on any error the previous list is kept. The
// per-channel depth and, when a trigger is set, the pretrigger sample count
// are recomputed from the new list.
func (e *Engine) ConfigureChannels(ids []uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Waiting || e.state == Sampling {
		return ErrBusy
	}
	if len(ids) == 0 || len(ids) > e.maxChannels {
		return fmt.Errorf("%w: %d channels (max %d)", ErrBadChannel, len(ids), e.maxChannels)
	}
	chans := make([]Channel, len(ids))
	for i, id := range ids {
		ch, ok := e.src.Channel(id)
		if !ok {
			return fmt.Errorf("%w: ID %d does not resolve", ErrBadChannel, id)
		}
		chans[i] = ch
	}
	e.chans = chans
	e.chanIDs = append([]uint16(nil), ids...)
	e.depth = e.ring.Cap() / len(ids)
	e.pretrigN = pretriggerSamples(e.trig.Pretrigger, e.depth)
	return nil
}

// ConfigureTrigger replaces the trigger specification and recomputes the
// pretrigger sample count. Channels must already be configured.
func (e *Engine) ConfigureTrigger(spec TriggerSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Waiting || e.state == Sampling {
		return ErrBusy
	}
	if len(e.chans) == 0 {
		return ErrNoChannels
	}
	if !spec.Kind.Valid() {
		return fmt.Errorf("%w: kind %d", ErrBadTrigger, spec.Kind)
	}
	if spec.Pretrigger < 0 || spec.Pretrigger > 1 {
		return fmt.Errorf("%w: pretrigger fraction %g outside [0,1]", ErrBadTrigger, spec.Pretrigger)
	}
	var trigChan Channel
	if spec.Kind != trigger.None {
		ch, ok := e.src.Channel(spec.Channel)
		if !ok {
			return fmt.Errorf("%w: trigger channel %d does not resolve", ErrBadTrigger, spec.Channel)
		}
		trigChan = ch
	}
	e.trig = spec
	e.trigChan = trigChan
	e.pretrigN = pretriggerSamples(spec.Pretrigger, e.depth)
	return nil
}

// ConfigureDownsample sets the tick divider.
func (e *Engine) ConfigureDownsample(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Waiting || e.state == Sampling {
		return ErrBusy
	}
	if n < MinDownsample || n > MaxDownsample {
		return fmt.Errorf("%w: %d outside [%d,%d]", ErrBadRange, n, MinDownsample, MaxDownsample)
	}
	e.downsample = n
	return nil
}

// Start resets the sample buffer and arms the capture: Waiting when a trigger
// is set, straight to Sampling for kind None. Because the buffer reset and
// the state change happen under the same lock the tick path takes, the next
// tick is guaranteed to observe the armed state.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.chans) == 0 {
		return ErrNoChannels
	}
	if e.state == Waiting || e.state == Sampling {
		return ErrBusy
	}

	e.ring.Reset()
	e.downCnt = 0
	e.pretrigSeen = 0
	e.hasPrev = false
	e.prev = 0
	e.cap = captureLayout{
		numChans: len(e.chans),
		depth:    e.depth,
		ids:      e.chanIDs,
	}
	if e.trig.Kind == trigger.None {
		e.state = Sampling
		e.remaining = e.depth
	} else {
		e.state = Waiting
	}
	return nil
}

// Stop forces Idle from any state. Always succeeds; a capture in flight is
// abandoned and its partial data discarded on the next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.state = Idle
	e.mu.Unlock()
}

// Tick is the periodic sampling step. Call it at a fixed period from the
// sampling goroutine; it no-ops in Idle and Done and is gated by the
// downsample divider before any state handling runs.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.downCnt++
	if e.downCnt < e.downsample {
		return
	}
	e.downCnt = 0

	switch e.state {
	case Waiting:
		e.tickWaiting()
	case Sampling:
		e.tickSampling()
	}
}

// tickWaiting samples all channels, then evaluates the trigger once enough
// pretrigger history exists. The previous-sample memory is updated after
// every evaluation, fired or not.
func (e *Engine) tickWaiting() {
	cur, haveCur := e.pushSamples()
	if !haveCur {
		cur = e.trigChan.Float()
	}
	e.pretrigSeen++
	// The triggering group is not part of the pretrigger window, so the
	// first eligible evaluation needs pretrigN full groups before it.
	if e.pretrigSeen <= e.pretrigN {
		return
	}

	fired := false
	if e.trig.Kind.Edge() {
		if e.hasPrev {
			fired = e.trig.Kind.Fired(cur, e.prev, e.trig.Threshold)
		}
	} else {
		fired = e.trig.Kind.Fired(cur, 0, e.trig.Threshold)
	}
	e.prev = cur
	e.hasPrev = true

	if !fired {
		return
	}
	// The triggering tick's sample group is already in the buffer.
	e.remaining = e.cap.depth - e.pretrigN - 1
	if e.remaining <= 0 {
		e.finishLocked()
		return
	}
	e.state = Sampling
}

// tickSampling stores one sample group and counts down to Done.
func (e *Engine) tickSampling() {
	e.pushSamples()
	e.remaining--
	if e.remaining <= 0 {
		e.finishLocked()
	}
}

// pushSamples writes one round-robin group of channel values. It returns the
// freshly read value of the trigger channel when that channel is part of the
// list, so Waiting does not read it twice.
func (e *Engine) pushSamples() (trigVal float32, haveTrig bool) {
	for i, ch := range e.chans {
		v := ch.Float()
		e.ring.Push(v)
		if !haveTrig && e.trigChan != nil && e.chanIDs[i] == e.trig.Channel {
			trigVal = v
			haveTrig = true
		}
	}
	return trigVal, haveTrig
}

func (e *Engine) finishLocked() {
	e.state = Done
	select {
	case e.doneCh <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Info is a read-only configuration snapshot for osci_info.
type Info struct {
	TriggerChannel uint16
	TriggerKind    trigger.Kind
	Threshold      float32
	Pretrigger     float64
	Downsample     int
	State          State
	Channels       []uint16
	Depth          int
}

// Info snapshots the current configuration and state.
func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{
		TriggerChannel: e.trig.Channel,
		TriggerKind:    e.trig.Kind,
		Threshold:      e.trig.Threshold,
		Pretrigger:     e.trig.Pretrigger,
		Downsample:     e.downsample,
		State:          e.state,
		Channels:       append([]uint16(nil), e.chanIDs...),
		Depth:          e.depth,
	}
}

// pretriggerSamples converts the configured fraction into a sample count for
// the given per-channel depth, rounding to nearest.
func pretriggerSamples(fraction float64, depth int) int {
	if depth <= 0 {
		return 0
	}
	return int(fraction*float64(depth) + 0.5)
}
