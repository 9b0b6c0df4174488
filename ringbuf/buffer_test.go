package ringbuf

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
)

func newVirtual(t *testing.T, size uint64) *Buffer {
	t.Helper()
	b, err := New(true, size, 0)
	if err != nil {
		t.Fatalf("New(virtual) error = %v", err)
	}
	t.Cleanup(func() { b.Free() })
	return b
}

func TestRoundTripVirtual(t *testing.T) {
	b := newVirtual(t, 4096)

	src := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(src)

	var dst bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for off := 0; off < len(src); off += 37 {
			end := off + 37
			if end > len(src) {
				end = len(src)
			}
			if err := b.Write(src[off:end]); err != nil {
				t.Errorf("Write error = %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		remaining := len(src)
		buf := make([]byte, 53)
		for remaining > 0 {
			n := len(buf)
			if n > remaining {
				n = remaining
			}
			if err := b.Read(buf[:n]); err != nil {
				t.Errorf("Read error = %v", err)
				return
			}
			dst.Write(buf[:n])
			remaining -= n
		}
	}()

	wg.Wait()

	if !bytes.Equal(dst.Bytes(), src) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", dst.Len(), len(src))
	}
	if b.DataAvail() != 0 {
		t.Errorf("DataAvail() = %d, want 0", b.DataAvail())
	}
}

func TestThresholdSignals(t *testing.T) {
	b := newVirtual(t, 1024)

	b.SetThresholdWrite(900)
	b.SetThresholdRead(100)

	select {
	case <-b.Writable():
	default:
		t.Error("writable should be set on an empty buffer with thres_wr_free=900")
	}
	select {
	case <-b.Readable():
		t.Error("readable should not be set on an empty buffer with thres_rd_avail=100")
	default:
	}

	data := make([]byte, 200)
	if err := b.Write(data); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	if b.DataAvail() < 100 {
		t.Fatalf("test setup invariant broken: DataAvail()=%d", b.DataAvail())
	}
	select {
	case <-b.Readable():
	default:
		t.Error("readable should be set once data_length >= thres_rd_avail")
	}

	// free space is now 1024-200=824 < 900: writable must have cleared.
	select {
	case <-b.Writable():
		t.Error("writable should be clear once free space drops below thres_wr_free")
	default:
	}
}

func TestResetClearsAndSetsBothSignals(t *testing.T) {
	b := newVirtual(t, 256)

	b.SetThresholdWrite(1)
	b.SetThresholdRead(1)
	if err := b.Write(make([]byte, 10)); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	if err := b.Reset(); err != nil {
		t.Fatalf("Reset error = %v", err)
	}

	if b.DataAvail() != 0 {
		t.Errorf("DataAvail() after Reset = %d, want 0", b.DataAvail())
	}
	select {
	case <-b.Writable():
	default:
		t.Error("writable should be set after Reset (threshold 0)")
	}
	select {
	case <-b.Readable():
	default:
		t.Error("readable should be set after Reset (threshold 0)")
	}
}

func TestWriteExceedsFreeSpace(t *testing.T) {
	b := newVirtual(t, 16)

	if err := b.Write(make([]byte, 17)); err != ErrShortSpace {
		t.Errorf("Write(17) on 16-byte ring error = %v, want ErrShortSpace", err)
	}
}

func TestReadExceedsDataAvail(t *testing.T) {
	b := newVirtual(t, 16)

	if err := b.Read(make([]byte, 1)); err != ErrShortSpace {
		t.Errorf("Read on empty ring error = %v, want ErrShortSpace", err)
	}
}

func TestWrapAround(t *testing.T) {
	b := newVirtual(t, 8)

	// Prime the ring so the next write straddles the wrap point.
	if err := b.Write([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := b.Read(make([]byte, 6)); err != nil {
		t.Fatalf("Read error = %v", err)
	}

	want := []byte{10, 20, 30, 40}
	if err := b.Write(want); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	got := make([]byte, 4)
	if err := b.Read(got); err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("wrap-around read = %v, want %v", got, want)
	}
}
