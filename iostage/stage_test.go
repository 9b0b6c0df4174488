package iostage

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/redshx86/tapectl/checksum"
	"github.com/redshx86/tapectl/ringbuf"
)

// memHandle is an in-memory Handle backed by a growable byte slice,
// for exercising the synchronous engines without a real file.
type memHandle struct {
	mu   sync.Mutex
	data []byte
}

func (h *memHandle) Fd() int { return -1 }

func (h *memHandle) WriteAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], p)
	return len(p), nil
}

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return 0, nil
	}
	n := copy(p, h.data[off:])
	return n, nil
}

func (h *memHandle) bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out
}

func newCRC(t *testing.T) *checksum.Stage {
	t.Helper()
	s, err := checksum.Start(64*1024, 4096, nil)
	if err != nil {
		t.Fatalf("checksum.Start error = %v", err)
	}
	return s
}

func TestSyncWriteDrainsRingToHandle(t *testing.T) {
	ring, err := ringbuf.New(true, 4096, 0)
	if err != nil {
		t.Fatalf("ringbuf.New error = %v", err)
	}
	handle := &memHandle{}
	crc := newCRC(t)

	s := New(Config{
		Mode:      ModeWrite,
		Handle:    handle,
		Ring:      ring,
		Checksum:  crc,
		BlockSize: 16,
	})
	go s.Run()

	want := bytes.Repeat([]byte("0123456789abcdef"), 20)
	go func() {
		for off := 0; off < len(want); off += 8 {
			ring.Write(want[off : off+8])
		}
		s.Flush()
	}()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("write stage did not finish")
	}

	if err := s.Err(); err != nil {
		t.Fatalf("stage error = %v", err)
	}
	if got := handle.bytes(); !bytes.Equal(got, want) {
		t.Errorf("handle bytes = %q, want %q", got, want)
	}
	if s.DataBytes() != uint64(len(want)) {
		t.Errorf("DataBytes = %d, want %d", s.DataBytes(), len(want))
	}
	if !s.Flags().Has(EndOfData) {
		t.Error("expected EndOfData flag set")
	}
}

func TestSyncWritePadsShortTailToAlignment(t *testing.T) {
	ring, err := ringbuf.New(true, 4096, 0)
	if err != nil {
		t.Fatalf("ringbuf.New error = %v", err)
	}
	handle := &memHandle{}
	crc := newCRC(t)

	s := New(Config{
		Mode:      ModeWrite,
		Handle:    handle,
		Ring:      ring,
		Checksum:  crc,
		BlockSize: 16,
		Align:     8,
	})
	go s.Run()

	data := bytes.Repeat([]byte{0xaa}, 20) // one full block of 16, tail of 4
	ring.Write(data)
	s.Flush()

	<-s.Done()
	if err := s.Err(); err != nil {
		t.Fatalf("stage error = %v", err)
	}

	got := handle.bytes()
	if len(got) != 24 { // 16 + round(4, up to 8)
		t.Fatalf("handle length = %d, want 24", len(got))
	}
	if !bytes.Equal(got[:20], data) {
		t.Errorf("data prefix mismatch")
	}
	for _, b := range got[20:] {
		if b != 0 {
			t.Errorf("padding byte = %#x, want 0", b)
		}
	}
	if s.DataBytes() != 20 {
		t.Errorf("DataBytes = %d, want 20", s.DataBytes())
	}
	if s.PaddedBytes() != 24 {
		t.Errorf("PaddedBytes = %d, want 24", s.PaddedBytes())
	}
}

func TestSyncReadFillsRingFromHandle(t *testing.T) {
	want := bytes.Repeat([]byte("tape-block-data!"), 10) // 160 bytes, multiple of 16
	handle := &memHandle{data: want}

	ring, err := ringbuf.New(true, 4096, 0)
	if err != nil {
		t.Fatalf("ringbuf.New error = %v", err)
	}
	crc := newCRC(t)

	s := New(Config{
		Mode:      ModeRead,
		Handle:    handle,
		Ring:      ring,
		Checksum:  crc,
		BlockSize: 16,
	})

	// The ring is large enough to hold the entire handle, so the read
	// stage never blocks on free space and can run to completion before
	// anything drains it.
	go s.Run()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read stage did not finish")
	}

	if err := s.Err(); err != nil {
		t.Fatalf("stage error = %v", err)
	}
	if !s.Flags().Has(EndOfFile) {
		t.Error("expected EndOfFile flag set")
	}

	got := make([]byte, ring.DataAvail())
	if err := ring.Read(got); err != nil {
		t.Fatalf("ring.Read error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("drained bytes = %q, want %q", got, want)
	}
}

func TestSyncWriteAbortStopsImmediately(t *testing.T) {
	ring, err := ringbuf.New(true, 4096, 0)
	if err != nil {
		t.Fatalf("ringbuf.New error = %v", err)
	}
	handle := &memHandle{}
	crc := newCRC(t)

	s := New(Config{
		Mode:      ModeWrite,
		Handle:    handle,
		Ring:      ring,
		Checksum:  crc,
		BlockSize: 4096,
	})
	go s.Run()
	s.Abort()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("aborted write stage did not finish")
	}
	if s.Err() != ErrAborted {
		t.Errorf("Err() = %v, want ErrAborted", s.Err())
	}
}
