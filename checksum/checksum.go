// Package checksum folds a running CRC32 over a byte stream on a
// background worker, decoupled from the I/O stage that produces the
// bytes so a slow checksum implementation can never stall a fast disk
// or tape. It is deliberately its own package rather than a method on
// the I/O stage: the only contract between the two is the private
// ring buffer and the append/finish calls below.
package checksum

import (
	"hash/crc32"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/redshx86/tapectl/ringbuf"
)

// Stage folds CRC32 (IEEE 802.3 polynomial, zero initial state) over
// everything appended to it, using its own private ring and worker
// goroutine.
type Stage struct {
	ring      *ringbuf.Buffer
	chunkSize uint64

	running uint32 // atomic snapshot of the CRC so far, for Current()

	terminate chan struct{}
	once      sync.Once
	done      chan struct{}
	finalCRC  uint32

	log *zap.Logger
}

// Start allocates the private ring and spawns the folding worker.
// bufSize is the private ring's capacity; chunkSize bounds one folding
// pass and is also the ring's read threshold, so the worker wakes once
// a full chunk (or more) has accumulated.
func Start(bufSize, chunkSize uint64, log *zap.Logger) (*Stage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ring, err := ringbuf.New(true, bufSize, 0)
	if err != nil {
		return nil, err
	}
	ring.SetThresholdRead(chunkSize)

	s := &Stage{
		ring:      ring,
		chunkSize: chunkSize,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
		log:       log,
	}
	go s.run()
	return s, nil
}

// Append is a blocking producer call: it waits for at least n bytes of
// free space in the private ring, copies data in, and returns. The
// worker picks the bytes up asynchronously.
func (s *Stage) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n := uint64(len(data))
	s.ring.SetThresholdWrite(n)
	for s.ring.FreeSpace() < n {
		<-s.ring.Writable()
	}
	return s.ring.Write(data)
}

// Finish raises the terminate signal, joins the worker after it has
// folded any remaining tail, and returns the final CRC32.
func (s *Stage) Finish() uint32 {
	s.once.Do(func() { close(s.terminate) })
	<-s.done
	return s.finalCRC
}

// Current returns the running (not yet finalized) CRC32, for a
// progress display that wants to show a checksum before the stream
// ends.
func (s *Stage) Current() uint32 {
	return atomic.LoadUint32(&s.running)
}

func (s *Stage) run() {
	defer close(s.done)

	scratch := make([]byte, s.chunkSize)
	crc := uint32(0)

	for {
		select {
		case <-s.terminate:
			crc = s.drainAll(crc, scratch)
			s.finalCRC = crc
			atomic.StoreUint32(&s.running, crc)
			return
		case <-s.ring.Readable():
			crc = s.drainChunks(crc, scratch)
			atomic.StoreUint32(&s.running, crc)
		}
	}
}

// drainChunks folds every full chunk currently available, leaving any
// partial tail in the ring for the next wake (or for drainAll at
// terminate).
func (s *Stage) drainChunks(crc uint32, scratch []byte) uint32 {
	for s.ring.DataAvail() >= s.chunkSize {
		if err := s.ring.Read(scratch); err != nil {
			s.log.Error("checksum worker read failed", zap.Error(err))
			return crc
		}
		crc = crc32.Update(crc, crc32.IEEETable, scratch)
	}
	return crc
}

// drainAll folds every remaining full chunk, then whatever partial
// tail is left.
func (s *Stage) drainAll(crc uint32, scratch []byte) uint32 {
	crc = s.drainChunks(crc, scratch)
	if tail := s.ring.DataAvail(); tail > 0 {
		buf := scratch[:tail]
		if err := s.ring.Read(buf); err != nil {
			s.log.Error("checksum worker tail read failed", zap.Error(err))
			return crc
		}
		crc = crc32.Update(crc, crc32.IEEETable, buf)
	}
	return crc
}
