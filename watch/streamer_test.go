package watch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"diagconsole/param"
)

func testParams(t *testing.T) []*param.Param {
	t.Helper()
	mk := func(typ param.Type, f float64) param.Value {
		v, err := param.MakeValue(typ, f)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	reg, err := param.NewRegistry([]param.Definition{
		{ID: 1, Name: "a", Type: param.U16, Def: mk(param.U16, 7), Min: mk(param.U16, 0), Max: mk(param.U16, 100)},
		{ID: 2, Name: "b", Type: param.F32, Def: mk(param.F32, 1.5), Min: mk(param.F32, 0), Max: mk(param.F32, 10)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg.List()
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) send(line string) error {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
	return nil
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestConfigureAndRateGuards(t *testing.T) {
	params := testParams(t)
	sink := &lineCollector{}
	s := NewStreamer(10*time.Millisecond, sink.send)

	if err := s.Start(); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("start without channels: %v", err)
	}
	if err := s.Configure(nil); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("empty configure: %v", err)
	}
	if err := s.Configure(params); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []time.Duration{5 * time.Millisecond, 15 * time.Millisecond, 61 * time.Second} {
		if err := s.SetRate(bad); !errors.Is(err, ErrBadRate) {
			t.Fatalf("rate %s: expected ErrBadRate, got %v", bad, err)
		}
	}
	if err := s.SetRate(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(); !errors.Is(err, ErrActive) {
		t.Fatalf("double start: %v", err)
	}
	if err := s.Configure(params); !errors.Is(err, ErrActive) {
		t.Fatalf("configure while active: %v", err)
	}
	if err := s.SetRate(20 * time.Millisecond); !errors.Is(err, ErrActive) {
		t.Fatalf("rate while active: %v", err)
	}
}

func TestStreamsCurrentValues(t *testing.T) {
	params := testParams(t)
	sink := &lineCollector{}
	s := NewStreamer(time.Millisecond, sink.send)
	if err := s.Configure(params); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for len(sink.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	lines := sink.snapshot()
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 streamed lines, got %d", len(lines))
	}
	for _, line := range lines {
		if line != "7,1.5" {
			t.Fatalf("stream line = %q, want 7,1.5", line)
		}
	}
	// No lines after stop.
	n := len(sink.snapshot())
	time.Sleep(20 * time.Millisecond)
	if len(sink.snapshot()) != n {
		t.Fatal("streamer kept sending after Stop")
	}
}

func TestSendFailureStopsStream(t *testing.T) {
	params := testParams(t)
	fail := func(string) error { return errors.New("session gone") }
	s := NewStreamer(time.Millisecond, fail)
	if err := s.Configure(params); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, active, _ := s.Snapshot(); !active {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, active, _ := s.Snapshot(); active {
		t.Fatal("streamer still active after sink failure")
	}
	// Restart must work after a failure stop.
	if err := s.Start(); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	s.Stop()
}