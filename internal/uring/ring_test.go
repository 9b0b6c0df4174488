//go:build linux

package iouring

import (
	"os"
	"syscall"
	"testing"
)

func skipIfNoIOURing(t *testing.T) {
	t.Helper()
	ring, err := New(4)
	if err != nil {
		if err == syscall.ENOSYS {
			t.Skip("io_uring not supported on this kernel")
		}
		if err == syscall.EPERM {
			t.Skip("io_uring blocked by seccomp or permissions")
		}
		t.Skipf("io_uring unavailable: %v", err)
	}
	ring.Close()
}

func TestNewRing(t *testing.T) {
	skipIfNoIOURing(t)

	tests := []struct {
		name    string
		entries uint32
		opts    []Option
		wantErr bool
	}{
		{"default_64", 64, nil, false},
		{"default_128", 128, nil, false},
		{"default_256", 256, nil, false},
		{"non_power_of_two", 100, nil, false}, // Kernel rounds up
		{"zero_entries", 0, nil, true},
		{"with_cqsize", 64, []Option{WithCQSize(256)}, false},
		{"with_single_issuer", 64, []Option{WithSingleIssuer()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring, err := New(tt.entries, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if ring != nil {
				if ring.Fd() < 0 {
					t.Error("ring fd should be valid")
				}
				if ring.SQEntries() == 0 {
					t.Error("SQ entries should be non-zero")
				}
				if ring.CQEntries() == 0 {
					t.Error("CQ entries should be non-zero")
				}
				ring.Close()
			}
		})
	}
}

func TestRingClose(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := ring.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// Second close must be idempotent: it returns nil and does nothing.
	if err := ring.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRingFeatures(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	t.Logf("ring features: 0x%x", ring.Features())
}

func TestNopOperation(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	const numNops = 10
	for i := 0; i < numNops; i++ {
		if err := ring.PrepNop(uint64(i + 1)); err != nil {
			t.Fatalf("PrepNop(%d) error = %v", i, err)
		}
	}

	if ring.SQReady() != numNops {
		t.Errorf("SQReady() = %d, want %d", ring.SQReady(), numNops)
	}

	n, err := ring.Submit()
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if n != numNops {
		t.Errorf("Submit() = %d, want %d", n, numNops)
	}

	seen := make(map[uint64]bool)
	for i := 0; i < numNops; i++ {
		userData, res, _, err := ring.WaitCQE()
		if err != nil {
			t.Fatalf("WaitCQE() error = %v", err)
		}
		if res != 0 {
			t.Errorf("CQE res = %d, want 0", res)
		}
		seen[userData] = true
		ring.SeenCQE()
	}

	for i := 1; i <= numNops; i++ {
		if !seen[uint64(i)] {
			t.Errorf("missing completion for userData %d", i)
		}
	}
}

func TestReadWrite(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	f, err := os.CreateTemp("", "tapectl_ring_test")
	if err != nil {
		t.Fatalf("CreateTemp error = %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	writeData := []byte("sustained-throughput tape block")
	if err := ring.PrepWrite(int(f.Fd()), writeData, 0, 1); err != nil {
		t.Fatalf("PrepWrite error = %v", err)
	}
	if _, err := ring.Submit(); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	userData, res, _, err := ring.WaitCQE()
	if err != nil {
		t.Fatalf("WaitCQE error = %v", err)
	}
	if userData != 1 {
		t.Errorf("userData = %d, want 1", userData)
	}
	if res != int32(len(writeData)) {
		t.Errorf("write res = %d, want %d", res, len(writeData))
	}
	ring.SeenCQE()

	readBuf := make([]byte, len(writeData))
	if err := ring.PrepRead(int(f.Fd()), readBuf, 0, 2); err != nil {
		t.Fatalf("PrepRead error = %v", err)
	}
	if _, err := ring.Submit(); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	userData, res, _, err = ring.WaitCQE()
	if err != nil {
		t.Fatalf("WaitCQE error = %v", err)
	}
	if userData != 2 {
		t.Errorf("userData = %d, want 2", userData)
	}
	if res != int32(len(writeData)) {
		t.Errorf("read res = %d, want %d", res, len(writeData))
	}
	ring.SeenCQE()

	if string(readBuf) != string(writeData) {
		t.Errorf("read data = %q, want %q", string(readBuf), string(writeData))
	}
}

func TestSQFull(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	sqEntries := ring.SQEntries()
	for i := uint32(0); i < sqEntries; i++ {
		if err := ring.PrepNop(uint64(i)); err != nil {
			t.Fatalf("PrepNop(%d) unexpected error = %v", i, err)
		}
	}

	if err := ring.PrepNop(999); err != ErrSQFull {
		t.Errorf("PrepNop on full queue error = %v, want ErrSQFull", err)
	}

	if _, err := ring.Submit(); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	for i := uint32(0); i < sqEntries; i++ {
		if _, _, _, err := ring.WaitCQE(); err != nil {
			t.Fatalf("WaitCQE error = %v", err)
		}
		ring.SeenCQE()
	}

	if err := ring.PrepNop(1000); err != nil {
		t.Errorf("PrepNop after drain error = %v", err)
	}
}

func TestForEachCQE(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	const numNops = 5
	for i := 0; i < numNops; i++ {
		ring.PrepNop(uint64(i + 1))
	}
	ring.Submit()
	ring.SubmitAndWait(uint32(numNops))

	count := ring.ForEachCQE(func(userData uint64, res int32, flags uint32) bool {
		if res != 0 {
			t.Errorf("CQE res = %d, want 0", res)
		}
		return true
	})

	if count != numNops {
		t.Errorf("ForEachCQE processed %d, want %d", count, numNops)
	}
	if ring.CQReady() != 0 {
		t.Errorf("CQReady() = %d after ForEachCQE, want 0", ring.CQReady())
	}
}

func TestProbe(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	probe, err := ring.Probe()
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if !probe.SupportsOp(0) { // IORING_OP_NOP
		t.Error("NOP should be supported")
	}
	if !probe.SupportsOp(22) { // IORING_OP_READ
		t.Error("READ should be supported")
	}
	if !probe.SupportsOp(23) { // IORING_OP_WRITE
		t.Error("WRITE should be supported")
	}
	if probe.SupportsOp(255) {
		t.Error("op 255 should not be supported")
	}
}

func TestCancel(t *testing.T) {
	skipIfNoIOURing(t)

	ring, err := New(64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ring.Close()

	// A blocking read on the empty end of a pipe stands in for a slow
	// tape device read that the abort path needs to unwind.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe error = %v", err)
	}
	defer r.Close()
	defer w.Close()

	buf := make([]byte, 16)
	if err := ring.PrepRead(int(r.Fd()), buf, 0, 100); err != nil {
		t.Fatalf("PrepRead error = %v", err)
	}
	if _, err := ring.Submit(); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	if err := ring.PrepCancel(100, 0, 200); err != nil {
		t.Fatalf("PrepCancel error = %v", err)
	}
	if _, err := ring.Submit(); err != nil {
		t.Fatalf("submit cancel error = %v", err)
	}

	seenCancel, seenRead := false, false
	for i := 0; i < 2; i++ {
		userData, _, _, err := ring.WaitCQE()
		if err != nil {
			t.Fatalf("WaitCQE error = %v", err)
		}
		ring.SeenCQE()

		switch userData {
		case 100:
			seenRead = true
		case 200:
			seenCancel = true
		default:
			t.Errorf("unexpected userData %d", userData)
		}
	}
	if !seenRead || !seenCancel {
		t.Errorf("seenRead=%v seenCancel=%v, want both true", seenRead, seenCancel)
	}
}

func BenchmarkNopSubmit(b *testing.B) {
	ring, err := New(1024)
	if err != nil {
		b.Skipf("io_uring unavailable: %v", err)
	}
	defer ring.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ring.PrepNop(uint64(i))
		ring.Submit()
		ring.WaitCQE()
		ring.SeenCQE()
	}
}

func BenchmarkNopBatch(b *testing.B) {
	ring, err := New(1024)
	if err != nil {
		b.Skipf("io_uring unavailable: %v", err)
	}
	defer ring.Close()

	const batchSize = 32

	b.ResetTimer()
	for i := 0; i < b.N; i += batchSize {
		for j := 0; j < batchSize && i+j < b.N; j++ {
			ring.PrepNop(uint64(i + j))
		}
		ring.Submit()

		for j := 0; j < batchSize && i+j < b.N; j++ {
			ring.WaitCQE()
			ring.SeenCQE()
		}
	}
}
