//go:build linux

package iouring

import (
	"github.com/redshx86/tapectl/internal/uring/sys"
)

// Probe describes which opcodes the running kernel's io_uring supports
// (older kernels lack IORING_OP_READ/WRITE). The I/O stage does not
// consult it; it is available to callers that want to check before
// choosing queued-async mode.
type Probe struct {
	probe    sys.Probe
	features uint32
}

// Probe queries the kernel for supported operations.
func (r *Ring) Probe() (*Probe, error) {
	p := &Probe{
		features: r.features,
	}
	err := sys.RegisterProbe(r.fd, &p.probe)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SupportsOp returns true if the kernel supports the given operation.
func (p *Probe) SupportsOp(op sys.Op) bool {
	if uint8(op) > p.probe.LastOp || int(op) >= len(p.probe.Ops) {
		return false
	}
	return p.probe.Ops[op].Flags&sys.IO_URING_OP_SUPPORTED != 0
}
