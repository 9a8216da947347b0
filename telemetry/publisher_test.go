package telemetry

import (
	"strings"
	"testing"
	"time"

	"diagconsole/recorder"
)

func TestCaptureDocumentEncoding(t *testing.T) {
	doc := CaptureDocument{
		Device: "drive-ctrl",
		Taken:  time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		Meta: recorder.Meta{
			Channels:       []uint16{1, 2},
			Depth:          2,
			TriggerKind:    1,
			TriggerChannel: 1,
			Threshold:      2.5,
			Pretrigger:     0.25,
			Downsample:     10,
		},
		Rows:    [][]float32{{0, 100}, {1.5, 101}},
		Elapsed: "12ms",
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	s := string(payload)
	for _, want := range []string{
		`"device":"drive-ctrl"`,
		`"channels":[1,2]`,
		`"trigger_kind":1`,
		`"threshold":2.5`,
		`"rows":[[0,100],[1.5,101]]`,
		`"elapsed":"12ms"`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("payload missing %s: %s", want, s)
		}
	}

	var back CaptureDocument
	if err := json.Unmarshal(payload, &back); err != nil {
		t.Fatal(err)
	}
	if back.Meta.Depth != 2 || back.Rows[1][0] != 1.5 {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestElapsedOmittedWhenEmpty(t *testing.T) {
	payload, err := json.Marshal(CaptureDocument{Device: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(payload), "elapsed") {
		t.Fatalf("empty elapsed serialized: %s", payload)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	p := NewPublisher("localhost", 1883, "diag/captures", "drive-ctrl")
	if err := p.PublishCapture(CaptureDocument{Device: "drive-ctrl"}); err == nil {
		t.Fatal("publish without connection accepted")
	}
	// Disconnect on a never-connected publisher must be a no-op.
	p.Disconnect()
}
