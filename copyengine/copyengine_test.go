package copyengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redshx86/tapectl/ringbuf"
)

// memHandle is a minimal in-memory iostage.Handle for exercising the
// orchestrator without a real file or device.
type memHandle struct {
	mu   sync.Mutex
	data []byte
}

func newMemHandle(data []byte) *memHandle {
	return &memHandle{data: data}
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
	return copy(p, h.data[off:]), nil
}

func (h *memHandle) bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out
}

func baseConfig(t *testing.T, ringSize uint64) (Config, *ringbuf.Buffer) {
	t.Helper()
	ring, err := ringbuf.New(true, ringSize, 0)
	if err != nil {
		t.Fatalf("ringbuf.New error = %v", err)
	}
	return Config{
		Ring:         ring,
		CRCBufSize:   64 * 1024,
		CRCBlockSize: 4096,
		Quiet:        true,
	}, ring
}

func runCopy(t *testing.T, cfg Config) Result {
	t.Helper()
	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := Copy(context.Background(), cfg)
		done <- struct {
			res Result
			err error
		}{res, err}
	}()
	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Copy error = %v", out.err)
		}
		return out.res
	case <-time.After(5 * time.Second):
		t.Fatal("Copy did not finish")
		return Result{}
	}
}

func TestCopyEmptyToEmptyIdentity(t *testing.T) {
	cfg, _ := baseConfig(t, 4*1024*1024)
	src := newMemHandle(nil)
	dst := newMemHandle(nil)
	cfg.SrcHandle = src
	cfg.SrcBlock = 4096
	cfg.DstHandle = dst
	cfg.DstBlock = 4096

	res := runCopy(t, cfg)
	if res.DataBytes != 0 {
		t.Errorf("DataBytes = %d, want 0", res.DataBytes)
	}
	if res.CRC32 != 0 {
		t.Errorf("CRC32 = 0x%08x, want 0x00000000", res.CRC32)
	}
}

func TestCopyAlignedBlockWrite(t *testing.T) {
	cfg, _ := baseConfig(t, 64*1024)
	data := make([]byte, 4096) // zero bytes
	src := newMemHandle(data)
	dst := newMemHandle(nil)
	cfg.SrcHandle = src
	cfg.SrcBlock = 4096
	cfg.DstHandle = dst
	cfg.DstBlock = 4096
	cfg.DstAlign = 4096

	res := runCopy(t, cfg)
	if res.DataBytes != 4096 || res.PaddedBytes != 4096 {
		t.Errorf("DataBytes/PaddedBytes = %d/%d, want 4096/4096", res.DataBytes, res.PaddedBytes)
	}
	const want = 0x1c58e580
	if res.CRC32 != want {
		t.Errorf("CRC32 = 0x%08x, want 0x%08x", res.CRC32, want)
	}
}

func TestCopyUnalignedTailPadding(t *testing.T) {
	cfg, _ := baseConfig(t, 64*1024)
	data := make([]byte, 4097)
	data[0] = 1
	src := newMemHandle(data)
	dst := newMemHandle(nil)
	cfg.SrcHandle = src
	cfg.SrcBlock = 4096
	cfg.DstHandle = dst
	cfg.DstBlock = 4096
	cfg.DstAlign = 4096

	res := runCopy(t, cfg)
	if res.DataBytes != 4097 {
		t.Errorf("DataBytes = %d, want 4097", res.DataBytes)
	}
	if res.PaddedBytes != 8192 {
		t.Errorf("PaddedBytes = %d, want 8192", res.PaddedBytes)
	}
	if res.PaddedBytes-res.DataBytes != 4095 {
		t.Errorf("padding = %d, want 4095", res.PaddedBytes-res.DataBytes)
	}
	got := dst.bytes()
	if len(got) != 8192 {
		t.Fatalf("dst length = %d, want 8192", len(got))
	}
	for i := 4097; i < 8192; i++ {
		if got[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, got[i])
		}
	}
}
