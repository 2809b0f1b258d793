package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Direction labels one side of a tunnel in a TransferMeter.
type Direction int

const (
	// Upload counts bytes sent through the tunnel.
	Upload Direction = iota
	// Download counts bytes received from the tunnel.
	Download
)

// TransferMeter renders tunnelled bytes and the remaining balance on one
// refreshing line. Add and SetBalance are safe for concurrent use.
type TransferMeter struct {
	mu       sync.Mutex
	writer   io.Writer
	interval time.Duration
	started  time.Time
	last     time.Time
	up, down int64
	balance  string
}

// NewTransferMeter creates a meter that redraws at most once per interval.
// If w is nil, it defaults to os.Stderr.
func NewTransferMeter(w io.Writer, interval time.Duration) *TransferMeter {
	if w == nil {
		w = os.Stderr
	}
	now := time.Now()
	return &TransferMeter{
		writer:   w,
		interval: interval,
		started:  now,
		balance:  "0",
	}
}

// Add records n bytes in direction d.
func (m *TransferMeter) Add(d Direction, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d == Upload {
		m.up += int64(n)
	} else {
		m.down += int64(n)
	}
	m.maybeRender()
}

// SetBalance records the current session balance.
func (m *TransferMeter) SetBalance(balance fmt.Stringer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance = balance.String()
	m.maybeRender()
}

// Totals returns the bytes counted so far.
func (m *TransferMeter) Totals() (up, down int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up, m.down
}

// Finish draws the final line and ends it.
func (m *TransferMeter) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.render()
	fmt.Fprintln(m.writer)
}

// Error reports an error on its own line.
func (m *TransferMeter) Error(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintf(m.writer, "\n✗ Error: %v\n", err)
}

func (m *TransferMeter) maybeRender() {
	if time.Since(m.last) < m.interval {
		return
	}
	m.render()
}

func (m *TransferMeter) render() {
	m.last = time.Now()
	elapsed := m.last.Sub(m.started).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	fmt.Fprintf(m.writer, "\r↑ %s  ↓ %s  %s/s  balance %s",
		humanBytes(m.up), humanBytes(m.down),
		humanBytes(int64(float64(m.up+m.down)/elapsed)), m.balance)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
