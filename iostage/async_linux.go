//go:build linux

package iostage

import (
	"syscall"
	"time"

	"go.uber.org/zap"

	uring "github.com/redshx86/tapectl/internal/uring"
)

// asyncSupported is true on Linux, where io_uring is available.
const asyncSupported = true

// ioThreadAbortTimeout bounds how long the async engine waits for
// outstanding cancellations to complete after an abort before it tears
// the ring down regardless.
const ioThreadAbortTimeout = 5 * time.Second

// ioPollInterval is how often the completion-draining loop falls back
// to checking the abort signal and the queue-fill condition while
// waiting on the ring.
const ioPollInterval = 100 * time.Millisecond

type asyncSlot struct {
	buf    []byte
	n      uint64
	padded uint64
	inUse  bool
}

// runAsync drives a queue-depth-Q engine against the handle through
// internal/uring: it keeps up to Config.Queue reads or writes
// outstanding at once, polling for completions on a short tick so the
// same goroutine can also notice Abort and, for a write stage, Flush.
func (s *Stage) runAsync() {
	depth := s.cfg.Queue
	ring, err := uring.New(depth, uring.WithCQSize(depth*2))
	if err != nil {
		s.setErrIfUnset(err)
		return
	}
	defer ring.Close()

	slots := make([]asyncSlot, depth)
	for i := range slots {
		slots[i].buf = make([]byte, s.cfg.BlockSize+s.cfg.Align+1)
	}

	if s.cfg.Mode == ModeWrite {
		s.runAsyncWrite(ring, slots)
	} else {
		s.runAsyncRead(ring, slots)
	}
}

func (s *Stage) runAsyncWrite(ring *uring.Ring, slots []asyncSlot) {
	blockSize := s.cfg.BlockSize
	align := s.cfg.Align
	pos := s.cfg.StartOffset
	ringBuf := s.cfg.Ring

	pending := 0
	sourceDone := false

	for {
		if s.aborted() {
			s.cancelAll(ring, slots, &pending)
			s.setErrIfUnset(ErrAborted)
			return
		}

		select {
		case <-s.flush.wait():
			s.clearFlag(Buffering)
			s.setFlag(Flushing)
		default:
		}

		congested := false
	fill:
		for {
			free := -1
			for i := range slots {
				if !slots[i].inUse {
					free = i
					break
				}
			}
			if free < 0 || sourceDone {
				break fill
			}
			if ring.SQSpace() == 0 {
				congested = true
				break fill
			}

			avail := ringBuf.DataAvail()
			flushing := s.hasFlag(Flushing)
			if avail == 0 {
				if flushing {
					sourceDone = true
				}
				break fill
			}
			n := blockSize
			if avail < n {
				if !flushing {
					s.setFlag(Buffering)
					break fill
				}
				n = avail
			} else {
				s.clearFlag(Buffering)
			}

			slot := &slots[free]
			if err := ringBuf.Read(slot.buf[:n]); err != nil {
				s.setErrIfUnset(err)
				sourceDone = true
				break fill
			}
			if err := s.cfg.Checksum.Append(slot.buf[:n]); err != nil {
				s.setErrIfUnset(err)
				sourceDone = true
				break fill
			}
			slot.n = n
			slot.padded = n
			if align > 1 {
				if padLen := (align - (n % align)) % align; padLen > 0 {
					for i := n; i < n+padLen; i++ {
						slot.buf[i] = 0
					}
					slot.padded = n + padLen
				}
			}
			if err := ring.PrepWrite(s.cfg.Handle.Fd(), slot.buf[:slot.padded], pos, uint64(free)); err != nil {
				s.setErrIfUnset(err)
				sourceDone = true
				break fill
			}
			pos += slot.padded
			slot.inUse = true
			pending++

			if flushing && n < blockSize {
				sourceDone = true
				break fill
			}
		}

		if congested {
			s.setFlag(DriverCongestion)
		} else {
			s.clearFlag(DriverCongestion)
		}

		if pending == 0 && sourceDone {
			s.clearFlag(Flushing)
			s.setFlag(EndOfData)
			return
		}

		if _, err := ring.Submit(); err != nil {
			s.setErrIfUnset(err)
			return
		}

		_, _, _, err := ring.WaitCQETimeout(ioPollInterval)
		if err == syscall.ETIME {
			continue
		}
		if err != nil {
			s.setErrIfUnset(err)
			return
		}

		ring.ForEachCQE(func(userData uint64, res int32, _ uint32) bool {
			slot := &slots[userData]
			if res < 0 {
				s.setErrIfUnset(uring.ResultError(res))
			} else {
				s.addCounters(slot.n, slot.padded)
			}
			slot.inUse = false
			pending--
			return true
		})
	}
}

func (s *Stage) runAsyncRead(ring *uring.Ring, slots []asyncSlot) {
	blockSize := s.cfg.BlockSize
	pos := s.cfg.StartOffset
	ringBuf := s.cfg.Ring

	pending := 0
	sourceDone := false

	for {
		if s.aborted() {
			s.cancelAll(ring, slots, &pending)
			s.setErrIfUnset(ErrAborted)
			return
		}

	fill:
		for {
			free := -1
			for i := range slots {
				if !slots[i].inUse {
					free = i
					break
				}
			}
			if free < 0 || sourceDone {
				break fill
			}
			if ring.SQSpace() == 0 {
				s.setFlag(DriverCongestion)
				break fill
			}
			s.clearFlag(DriverCongestion)

			if ringBuf.FreeSpace() < uint64(pending+1)*blockSize {
				s.setFlag(Debuffering)
				break fill
			}
			s.clearFlag(Debuffering)

			slot := &slots[free]
			if err := ring.PrepRead(s.cfg.Handle.Fd(), slot.buf[:blockSize], pos, uint64(free)); err != nil {
				s.setErrIfUnset(err)
				sourceDone = true
				break fill
			}
			pos += blockSize
			slot.inUse = true
			pending++
		}

		if pending == 0 && sourceDone {
			s.setFlag(EndOfFile)
			return
		}

		if _, err := ring.Submit(); err != nil {
			s.setErrIfUnset(err)
			return
		}

		_, _, _, err := ring.WaitCQETimeout(ioPollInterval)
		if err == syscall.ETIME {
			continue
		}
		if err != nil {
			s.setErrIfUnset(err)
			return
		}

		ring.ForEachCQE(func(userData uint64, res int32, _ uint32) bool {
			slot := &slots[userData]
			if res < 0 {
				s.setErrIfUnset(uring.ResultError(res))
				sourceDone = true
			} else {
				n := uint64(res)
				if n > 0 {
					if err := s.cfg.Checksum.Append(slot.buf[:n]); err != nil {
						s.setErrIfUnset(err)
					} else if err := ringBuf.Write(slot.buf[:n]); err != nil {
						s.setErrIfUnset(err)
					} else {
						s.addCounters(n, n)
					}
				}
				if n < blockSize {
					sourceDone = true
				}
			}
			slot.inUse = false
			pending--
			return true
		})
	}
}

// cancelAll submits an async-cancel for every outstanding slot and
// waits up to ioThreadAbortTimeout for them to drain before giving up.
func (s *Stage) cancelAll(ring *uring.Ring, slots []asyncSlot, pending *int) {
	for i := range slots {
		if slots[i].inUse {
			_ = ring.PrepCancel(uint64(i), 0, uint64(len(slots)+i))
		}
	}
	ring.Submit()

	deadline := time.Now().Add(ioThreadAbortTimeout)
	for *pending > 0 && time.Now().Before(deadline) {
		_, _, _, err := ring.WaitCQETimeout(ioPollInterval)
		if err != nil && err != syscall.ETIME {
			break
		}
		ring.ForEachCQE(func(userData uint64, _ int32, _ uint32) bool {
			if int(userData) < len(slots) && slots[userData].inUse {
				slots[userData].inUse = false
				*pending--
			}
			return true
		})
	}
	if *pending > 0 {
		s.cfg.Log.Warn("async I/O stage forced termination with operations still outstanding",
			zap.Int("pending", *pending))
	}
}
