// Progress lines and running tallies for batch runs.
// When results go to files, stdout is free for a user-facing progress display.
package main

import (
	"fmt"
	"io"
	"sync"
)

// progressOut is the writer for progress indicators. Set to os.Stdout when
// output goes to files. In all other cases (stdout mode or --silent) it is
// io.Discard.
var progressOut io.Writer = io.Discard

// progressMu serialises writes to progressOut.
var progressMu sync.Mutex

// pprintf writes a formatted progress line to progressOut.
func pprintf(format string, args ...any) {
	progressMu.Lock()
	defer progressMu.Unlock()
	fmt.Fprintf(progressOut, format, args...)
}

// tally counts outcomes of a batch run. Item failures are recorded, never
// fatal.
type tally struct {
	mu        sync.Mutex
	total     int
	succeeded int
	failed    []string
}

func newTally(total int) *tally {
	return &tally{total: total}
}

func (t *tally) position() int {
	return t.succeeded + len(t.failed) + 1
}

// success records a finished item and prints its progress line.
func (t *tally) success(label, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pprintf("✓ [%d/%d] %s %s\n", t.position(), t.total, label, detail)
	t.succeeded++
}

// fail records an item failure and logs it.
func (t *tally) fail(label string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pprintf("✗ [%d/%d] %s\n", t.position(), t.total, label)
	fmt.Fprintf(logOut, "  Error: %s: %v (skipping)\n", label, err)
	t.failed = append(t.failed, label)
}

func (t *tally) counts() (succeeded, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded, len(t.failed)
}

// summary is the closing line of a batch run.
func (t *tally) summary() string {
	ok, failed := t.counts()
	if failed == 0 {
		return fmt.Sprintf("%d of %d succeeded", ok, t.total)
	}
	return fmt.Sprintf("%d of %d succeeded, %d failed", ok, t.total, failed)
}
