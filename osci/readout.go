package osci

import (
	"fmt"
	"strconv"
	"strings"
)

// ReadData emits the finished capture window, oldest sample group first, one
// line per group with channel values comma-separated in configured order.
// Only legal in Done; the engine stays in Done afterwards so repeated reads
// return identical output. The window is copied out under the engine lock and
// formatted outside it, keeping the tick path's lock hold time bounded.
func (e *Engine) ReadData(emit func(line string) error) error {
	rows, err := e.snapshotRows()
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		for i, v := range row {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(formatSample(v))
		}
		if err := emit(sb.String()); err != nil {
			return err
		}
	}
	return nil
}

// Window returns the finished capture as chronological rows, one slice per
// sample group, plus the channel IDs the capture was armed with. This is the
// archival read path; the telnet read-out goes through ReadData. The IDs come
// from the layout snapshot taken at Start, so a reconfiguration after the
// capture finished cannot mislabel the window.
func (e *Engine) Window() ([][]float32, []uint16, error) {
	rows, err := e.snapshotRows()
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	ids := append([]uint16(nil), e.cap.ids...)
	e.mu.Unlock()
	return rows, ids, nil
}

// snapshotRows reconstructs chronological per-channel rows from the ring's
// raw round-robin layout. The ring may be larger than depth*numChans by the
// integer-division remainder; those padding items are never sample slots, so
// the relative base index skips past them to the oldest complete group.
func (e *Engine) snapshotRows() ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Done {
		return nil, ErrNotReady
	}
	numChans := e.cap.numChans
	depth := e.cap.depth
	total := depth * numChans
	remainder := e.ring.Cap() % numChans
	base := -e.ring.Cap() + remainder // == -total

	rows := make([][]float32, depth)
	flat := make([]float32, total)
	for g := 0; g < depth; g++ {
		row := flat[g*numChans : (g+1)*numChans]
		for c := 0; c < numChans; c++ {
			v, err := e.ring.At(base + g*numChans + c)
			if err != nil {
				return nil, fmt.Errorf("osci: capture window shorter than expected: %w", err)
			}
			row[c] = v
		}
		rows[g] = row
	}
	return rows, nil
}

// formatSample renders one value the way the firmware's %g did.
func formatSample(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
