//go:build linux

package ringbuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// noMap is the sentinel window position meaning "not currently mapped
// to anything".
const noMap = ^uint64(0)

// window is one of the two sliding mapping windows over a paged ring's
// memfd backing. It is a small state machine over
// {idle, mapped_to_P}; acquireWrite/acquireRead and remap are its only
// transitions, guarded by the read and write gates so a remap can
// never run concurrently with a copy into or out of the window.
type window struct {
	size       uint64
	fd         int    // memfd backing the whole ring
	pos        uint64 // page-aligned byte offset this window currently covers, or noMap
	data       []byte // mmap'd view, len == size, nil when unmapped
	readGate   gate
	writeGate  gate
	generation uint64 // bumped on every remap; assertWindowStable checks it under -tags ringbuf_debug
}

// gate is a binary (auto-reset) semaphore: acquiring it blocks until
// no other goroutine holds it, and release always leaves exactly one
// token available. It is the only primitive a remap and an ongoing
// copy into/out of a window contend on.
type gate chan struct{}

func newGate() gate {
	g := make(gate, 1)
	g <- struct{}{}
	return g
}

func (g gate) acquire() { <-g }
func (g gate) release() { g <- struct{}{} }

func newWindow(size uint64, fd int) *window {
	return &window{
		size:      size,
		fd:        fd,
		pos:       noMap,
		readGate:  newGate(),
		writeGate: newGate(),
	}
}

// mappedAt reports whether the window is already mapped to pos. Only
// safe to call while holding the gate for the role about to use it.
func (w *window) mappedAt(pos uint64) bool {
	return w.data != nil && w.pos == pos
}

// remap points the window at a new page-aligned position, unmapping
// whatever it previously covered. forWrite selects which of the two
// gates must additionally be taken to serialise against the window's
// other role: a writer remapping a window excludes concurrent readers
// by taking the read gate (and vice versa), since the caller already
// holds its own role's gate.
func (w *window) remap(forWrite bool) error {
	if forWrite {
		w.readGate.acquire()
		defer w.readGate.release()
	} else {
		w.writeGate.acquire()
		defer w.writeGate.release()
	}

	if w.data != nil {
		if err := unix.Munmap(w.data); err != nil {
			return fmt.Errorf("ringbuf: unmap window: %w", err)
		}
		w.data = nil
	}
	return nil
}

// mapTo finishes a remap by mmap-ing the window onto pos. Called after
// remap() has unmapped any previous view and while the caller still
// holds its own role's gate.
func (w *window) mapTo(pos uint64) error {
	data, err := unix.Mmap(w.fd, int64(pos), int(w.size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("ringbuf: map window at %d: %w", pos, err)
	}
	w.data = data
	w.pos = pos
	w.generation++
	return nil
}

func (w *window) unmapFinal() error {
	if w.data == nil {
		return nil
	}
	err := unix.Munmap(w.data)
	w.data = nil
	w.pos = noMap
	return err
}
