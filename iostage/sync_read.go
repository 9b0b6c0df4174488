package iostage

import "io"

// runSyncRead pulls one block at a time from the handle and pushes it
// into the ring buffer. In sustain mode it mirrors the write stage's
// hysteresis: DEBUFFERING holds off resuming reads until the ring has
// thres_buf_debuf bytes of free space, then the write threshold drops
// to zero to catch the next near-full ring immediately.
func (s *Stage) runSyncRead() {
	ring := s.cfg.Ring
	blockSize := s.cfg.BlockSize
	pos := s.cfg.StartOffset

	if s.cfg.Sustain {
		ring.SetThresholdWrite(s.cfg.ThresBufDebuf)
		s.setFlag(Debuffering)
	} else {
		ring.SetThresholdWrite(blockSize)
	}

	buf := make([]byte, blockSize)

	for {
		select {
		case <-s.abort.wait():
			s.abort.set()
			s.setErrIfUnset(ErrAborted)
			return
		case <-ring.Writable():
		}

		free := ring.FreeSpace()
		if free < blockSize {
			if s.cfg.Sustain && !s.hasFlag(Debuffering) {
				s.setFlag(Debuffering)
				ring.SetThresholdWrite(s.cfg.ThresBufDebuf)
			}
			continue
		}
		if s.cfg.Sustain && s.hasFlag(Debuffering) {
			s.clearFlag(Debuffering)
			ring.SetThresholdWrite(0)
		}

		n, err := s.cfg.Handle.ReadAt(buf, int64(pos))
		if n > 0 {
			if werr := s.cfg.Checksum.Append(buf[:n]); werr != nil {
				s.setErrIfUnset(werr)
				return
			}
			if werr := ring.Write(buf[:n]); werr != nil {
				s.setErrIfUnset(werr)
				return
			}
			pos += uint64(n)
			s.addCounters(uint64(n), uint64(n))
		}

		if err != nil {
			if err != io.EOF {
				s.setErrIfUnset(err)
			}
			s.setFlag(EndOfFile)
			return
		}
		if uint64(n) < blockSize {
			s.setFlag(EndOfFile)
			return
		}
	}
}
