// Package iostage implements the source/sink I/O stage state machines
// that pull or push io_block_size blocks between the shared ring
// buffer and a file/device handle, in either synchronous or
// queue-depth-N asynchronous mode, with the buffering/debuffering
// hysteresis that keeps a slow tape drive from shoe-shining.
package iostage

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/redshx86/tapectl/checksum"
	"github.com/redshx86/tapectl/ringbuf"
)

// Flags records the I/O stage's state machine position (spec §4.3).
type Flags uint32

const (
	Buffering Flags = 1 << iota
	Flushing
	EndOfData
	Debuffering
	EndOfFile
	DriverCongestion
)

func (f Flags) Has(mask Flags) bool { return f&mask != 0 }

// Mode distinguishes a source stage (reads from the handle into the
// ring) from a sink stage (writes from the ring to the handle).
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// ErrAborted is the first error recorded by a stage that observed the
// abort signal before any other error.
var ErrAborted = errors.New("iostage: operation aborted")

// Handle is the minimal handle surface an I/O stage needs: enough for
// synchronous positioned I/O and, on Linux with a queue depth > 1, for
// queuing reads/writes through internal/uring.
type Handle interface {
	Fd() int
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Config describes one I/O stage.
type Config struct {
	Mode     Mode
	Handle   Handle
	Ring     *ringbuf.Buffer
	Checksum *checksum.Stage

	BlockSize uint64 // S
	Align     uint64 // A; write only, 0 or 1 means no padding
	Queue     uint32 // Q; <= 1 means synchronous

	Sustain       bool
	ThresBufDebuf uint64 // buffering/debuffering threshold

	StartOffset uint64 // initial byte offset on Handle

	Log *zap.Logger
}

// Stage is a running source or sink I/O stage.
type Stage struct {
	cfg Config

	mu          sync.Mutex // guards the fields below ("totals mutex")
	flags       Flags
	dataBytes   uint64
	paddedBytes uint64
	lastErr     error

	abort level
	flush level // write stages only; Flush is a no-op on a read stage

	done chan struct{}
}

// New constructs a stage. Call Run (typically in its own goroutine)
// to start it, and wait on Done to observe completion.
func New(cfg Config) *Stage {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Stage{
		cfg:   cfg,
		abort: newLevel(),
		flush: newLevel(),
		done:  make(chan struct{}),
	}
}

// Abort raises the level-triggered abort signal. Safe to call from any
// goroutine, any number of times.
func (s *Stage) Abort() { s.abort.set() }

// Flush asks a write stage to drain and stop accepting new buffering;
// a no-op on a read stage.
func (s *Stage) Flush() { s.flush.set() }

// Done returns a channel closed once the stage's Run has returned.
func (s *Stage) Done() <-chan struct{} { return s.done }

// Err returns the stage's first recorded error, if any.
func (s *Stage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// DataBytes returns the unpadded byte count processed so far.
func (s *Stage) DataBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataBytes
}

// PaddedBytes returns the on-handle byte count processed so far
// (equal to DataBytes for a read stage, which never pads).
func (s *Stage) PaddedBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paddedBytes
}

// Flags returns a snapshot of the stage's state flags.
func (s *Stage) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *Stage) setFlag(f Flags) {
	s.mu.Lock()
	s.flags |= f
	s.mu.Unlock()
}

func (s *Stage) clearFlag(f Flags) {
	s.mu.Lock()
	s.flags &^= f
	s.mu.Unlock()
}

func (s *Stage) hasFlag(f Flags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags&f != 0
}

func (s *Stage) setErrIfUnset(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}

func (s *Stage) addCounters(dataN, paddedN uint64) {
	s.mu.Lock()
	s.dataBytes += dataN
	s.paddedBytes += paddedN
	s.mu.Unlock()
}

func (s *Stage) aborted() bool {
	select {
	case <-s.abort.wait():
		s.abort.set() // keep it level: re-arm for the next peek/select
		return true
	default:
		return false
	}
}

// Run executes the stage's state machine until it terminates (end of
// data/file, error, or abort) and closes Done. Queue > 1 selects the
// async engine on platforms that support it (Linux); everywhere else,
// and whenever Queue <= 1, the synchronous engine is used.
func (s *Stage) Run() {
	defer close(s.done)

	if s.cfg.Queue > 1 && asyncSupported {
		s.runAsync()
		return
	}

	if s.cfg.Mode == ModeWrite {
		s.runSyncWrite()
	} else {
		s.runSyncRead()
	}
}
