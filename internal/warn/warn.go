// Package warn provides the deduplicating cell-local warning sink used
// throughout basd. Fatal configuration and data errors are plain Go errors
// (see the root package's errors.go); this package is only for the
// non-fatal anomalies: fit failures, all-invalid series, bound-frequency
// renormalization, capped climatology values, and too-few quantile-mapping
// points. A cell proceeds (or is skipped) after logging one of these; the
// run itself never aborts because of them.
package warn

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Deduper wraps a *logrus.Logger and optionally suppresses repeat
// (cell, message) warnings, following the reference implementation's
// "repeat-warnings" run option.
type Deduper struct {
	Logger *logrus.Logger
	// Repeat, if false (the default), logs each distinct message for a
	// given cell index only once per run.
	Repeat bool

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a Deduper around a standard logrus logger configured the way
// cmd/inmapweb's main.go configures its own: text formatter, full
// timestamps, debug level.
func New(repeat bool) *Deduper {
	logger := logrus.StandardLogger()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:  true,
		DisableSorting: true,
	})
	return &Deduper{Logger: logger, Repeat: repeat, seen: make(map[string]struct{})}
}

// Cell logs a warning attributed to a specific spatial cell index,
// suppressing exact duplicates unless Repeat is set.
func (d *Deduper) Cell(cellIndex []int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	key := fmt.Sprintf("%v|%s", cellIndex, msg)

	if !d.Repeat {
		d.mu.Lock()
		_, dup := d.seen[key]
		d.seen[key] = struct{}{}
		d.mu.Unlock()
		if dup {
			return
		}
	}
	d.Logger.WithField("cell", cellIndex).Warn(msg)
}

// Skip logs a cell-skip decision: either every input value was invalid and
// no if-all-invalid-use fallback was configured, or the cell was otherwise
// unprocessable.
func (d *Deduper) Skip(cellIndex []int, reason string) {
	d.Logger.WithField("cell", cellIndex).Warnf("skipping cell: %s", reason)
}
