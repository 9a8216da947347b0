// Package watch implements per-session live streaming of parameter values:
// a session configures a channel list and a period, then receives one line of
// comma-joined current values per period until it stops the stream or
// disconnects. Each telnet session owns one Streamer; streams never fan out
// to other sessions.
package watch

import (
	"errors"
	"strings"
	"sync"
	"time"

	"diagconsole/param"
)

const maxPeriod = 60 * time.Second

var (
	// ErrActive rejects reconfiguration while the stream is running.
	ErrActive = errors.New("watch: live watch is running")
	// ErrNoChannels rejects a start without configured channels.
	ErrNoChannels = errors.New("watch: no channels configured")
	// ErrBadRate rejects a period outside [base, 60s] or not a multiple of
	// the base handler period.
	ErrBadRate = errors.New("watch: period out of valid range")
)

// Streamer drives one session's live watch. The send callback delivers one
// formatted line to the owning session; a send failure stops the stream.
type Streamer struct {
	base time.Duration
	send func(line string) error

	mu     sync.Mutex
	params []*param.Param
	period time.Duration
	active bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewStreamer binds a streamer to its session sink. base is the sampling
// handler period; it is the minimum and granularity of the stream rate.
func NewStreamer(base time.Duration, send func(line string) error) *Streamer {
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	return &Streamer{base: base, send: send, period: base}
}

// Configure replaces the watched parameter list. Rejected while streaming.
func (s *Streamer) Configure(params []*param.Param) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrActive
	}
	if len(params) == 0 {
		return ErrNoChannels
	}
	s.params = params
	return nil
}

// SetRate changes the streaming period. The period must lie within
// [base, 60s] and be a whole multiple of the base handler period.
func (s *Streamer) SetRate(period time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrActive
	}
	if period < s.base || period > maxPeriod {
		return ErrBadRate
	}
	if period%s.base != 0 {
		return ErrBadRate
	}
	s.period = period
	return nil
}

// Start launches the streaming goroutine.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrActive
	}
	if len(s.params) == 0 {
		return ErrNoChannels
	}
	s.stop = make(chan struct{})
	s.active = true
	s.wg.Add(1)
	go s.run(s.stop, s.period, s.params)
	return nil
}

// Stop halts the stream. Safe to call when not running; returns after the
// streaming goroutine exited.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.active {
		close(s.stop)
		s.active = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Snapshot reports the current configuration for watch_info.
func (s *Streamer) Snapshot() (period time.Duration, active bool, ids []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids = make([]uint16, len(s.params))
	for i, p := range s.params {
		ids[i] = p.ID()
	}
	return s.period, s.active, ids
}

// run emits one line per period until stopped or the sink fails. The param
// list and period are captured at start so a racing reconfigure (rejected
// anyway while active) can never tear the stream.
func (s *Streamer) run(stop chan struct{}, period time.Duration, params []*param.Param) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.send(formatLine(params)); err != nil {
				// Session is gone; mark ourselves stopped.
				s.mu.Lock()
				if s.active {
					s.active = false
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

func formatLine(params []*param.Param) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Get().String())
	}
	return sb.String()
}
