package iostage

// runSyncWrite drains the ring buffer one block at a time and writes
// each block to the handle at a steadily advancing offset. In sustain
// mode it holds off writing anything until thres_buf_debuf bytes have
// accumulated (BUFFERING), then lowers the threshold to zero so the
// very next short read is caught immediately and treated as a fresh
// underrun, re-arming BUFFERING.
func (s *Stage) runSyncWrite() {
	ring := s.cfg.Ring
	blockSize := s.cfg.BlockSize
	align := s.cfg.Align
	pos := s.cfg.StartOffset

	if s.cfg.Sustain {
		ring.SetThresholdRead(s.cfg.ThresBufDebuf)
		s.setFlag(Buffering)
	} else {
		ring.SetThresholdRead(blockSize)
	}

	buf := make([]byte, blockSize)

	for {
		select {
		case <-s.abort.wait():
			s.abort.set()
			s.setErrIfUnset(ErrAborted)
			return
		case <-s.flush.wait():
			s.clearFlag(Buffering)
			s.setFlag(Flushing)
			ring.SetThresholdRead(0)
			continue
		case <-ring.Readable():
		}

		avail := ring.DataAvail()
		flushing := s.hasFlag(Flushing)

		if avail == 0 {
			if flushing {
				s.clearFlag(Flushing)
				s.setFlag(EndOfData)
				return
			}
			continue
		}

		n := blockSize
		if avail < n {
			if !flushing {
				if s.cfg.Sustain && !s.hasFlag(Buffering) {
					s.setFlag(Buffering)
					ring.SetThresholdRead(s.cfg.ThresBufDebuf)
				}
				continue
			}
			n = avail
		} else if s.cfg.Sustain && s.hasFlag(Buffering) {
			s.clearFlag(Buffering)
			ring.SetThresholdRead(0)
		}

		if err := ring.Read(buf[:n]); err != nil {
			s.setErrIfUnset(err)
			return
		}
		data := buf[:n]
		if err := s.cfg.Checksum.Append(data); err != nil {
			s.setErrIfUnset(err)
			return
		}

		out := data
		if align > 1 {
			if padLen := (align - (n % align)) % align; padLen > 0 {
				for i := n; i < n+padLen; i++ {
					buf[i] = 0
				}
				out = buf[:n+padLen]
			}
		}

		if _, err := s.cfg.Handle.WriteAt(out, int64(pos)); err != nil {
			s.setErrIfUnset(err)
			return
		}
		pos += uint64(len(out))
		s.addCounters(n, uint64(len(out)))

		if flushing && n < blockSize {
			s.clearFlag(Flushing)
			s.setFlag(EndOfData)
			return
		}
	}
}
