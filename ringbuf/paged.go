//go:build linux

package ringbuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pagedBacking holds B bytes of page frames in a memfd, exposed
// through two fixed-size sliding windows so a buffer larger than
// comfortably addressable virtual memory can still be streamed
// through. The pages are not held locked while streaming (see
// newPagedBacking). Window A is writer-preferred, window B' is
// reader-preferred; either side can remap either window, the
// preference is only a scheduling hint (see the window-gate design
// note).
type pagedBacking struct {
	fd         int
	size       uint64
	windowSize uint64
	winA       *window
	winB       *window
}

func newPagedBacking(size, windowSize uint64) (*pagedBacking, error) {
	if windowSize == 0 || size%windowSize != 0 {
		return nil, fmt.Errorf("ringbuf: paged size %d must be a multiple of window size %d", size, windowSize)
	}

	fd, err := unix.MemfdCreate("tapectl-ringbuf", 0)
	if err != nil {
		return nil, fmt.Errorf("ringbuf: memfd_create: %w", err)
	}
	if err := unix.Fallocate(fd, 0, 0, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ringbuf: fallocate %d bytes: %w", size, err)
	}

	// Map the whole memfd once and mlock it, which faults every page in
	// and fails early when the pages cannot be locked. Unmapping the
	// probe drops the lock again, so the pages are not locked afterwards.
	probe, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ringbuf: probe mmap: %w", err)
	}
	mlockErr := unix.Mlock(probe)
	unix.Munmap(probe)
	if mlockErr != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ringbuf: mlock: %w", mlockErr)
	}

	return &pagedBacking{
		fd:         fd,
		size:       size,
		windowSize: windowSize,
		winA:       newWindow(windowSize, fd),
		winB:       newWindow(windowSize, fd),
	}, nil
}

func (p *pagedBacking) alignedPos(off uint64) uint64 {
	return (off / p.windowSize) * p.windowSize
}

// acquireWrite returns a window mapped over the page-aligned chunk
// containing off, preferring whichever of A/B' is already mapped
// there, falling back to remapping A. The caller must call release
// when done copying.
func (p *pagedBacking) acquireWrite(off uint64) (*window, error) {
	return p.acquire(off, p.winA, p.winB, true)
}

// acquireRead mirrors acquireWrite, preferring window B'.
func (p *pagedBacking) acquireRead(off uint64) (*window, error) {
	return p.acquire(off, p.winB, p.winA, false)
}

// acquire implements the shared remap algorithm: preferred is tried
// first, other second; a miss on both remaps preferred. forWrite
// selects which per-window gate this call takes for the duration of
// the copy.
func (p *pagedBacking) acquire(off uint64, preferred, other *window, forWrite bool) (*window, error) {
	pos := p.alignedPos(off)

	gateOf := func(w *window) gate {
		if forWrite {
			return w.writeGate
		}
		return w.readGate
	}

	gateOf(preferred).acquire()
	gateOf(other).acquire()

	if preferred.mappedAt(pos) {
		gateOf(other).release()
		return preferred, nil
	}
	if other.mappedAt(pos) {
		gateOf(preferred).release()
		return other, nil
	}

	// Miss on both: remap the preferred window. other's gate was only
	// needed to rule it out.
	gateOf(other).release()

	if err := preferred.remap(forWrite); err != nil {
		gateOf(preferred).release()
		return nil, err
	}
	if err := preferred.mapTo(pos); err != nil {
		gateOf(preferred).release()
		return nil, err
	}
	return preferred, nil
}

func (p *pagedBacking) release(w *window, forWrite bool) {
	if forWrite {
		w.writeGate.release()
	} else {
		w.readGate.release()
	}
}

func (p *pagedBacking) writeAt(off uint64, src []byte) error {
	for len(src) > 0 {
		win, err := p.acquireWrite(off)
		if err != nil {
			return err
		}
		gen := win.generation
		within := off - win.pos
		n := copy(win.data[within:], src)
		assertWindowStable(win, gen)
		p.release(win, true)

		src = src[n:]
		off += uint64(n)
	}
	return nil
}

func (p *pagedBacking) readAt(off uint64, dst []byte) error {
	for len(dst) > 0 {
		win, err := p.acquireRead(off)
		if err != nil {
			return err
		}
		gen := win.generation
		within := off - win.pos
		n := copy(dst, win.data[within:])
		assertWindowStable(win, gen)
		p.release(win, false)

		dst = dst[n:]
		off += uint64(n)
	}
	return nil
}

// reset unmaps both windows, releasing the sliding-window state; the
// underlying memfd and its locked pages are freed by close.
func (p *pagedBacking) reset() error {
	p.winA.writeGate.acquire()
	p.winA.readGate.acquire()
	errA := p.winA.unmapFinal()
	p.winA.readGate.release()
	p.winA.writeGate.release()

	p.winB.writeGate.acquire()
	p.winB.readGate.acquire()
	errB := p.winB.unmapFinal()
	p.winB.readGate.release()
	p.winB.writeGate.release()

	if errA != nil {
		return errA
	}
	return errB
}

func (p *pagedBacking) close() error {
	resetErr := p.reset()
	closeErr := unix.Close(p.fd)
	if resetErr != nil {
		return resetErr
	}
	return closeErr
}
