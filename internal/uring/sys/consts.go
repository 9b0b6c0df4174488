// Package sys provides low-level io_uring syscall wrappers and types.
package sys

// Syscall numbers for io_uring (x86_64)
const (
	SYS_IO_URING_SETUP    = 425
	SYS_IO_URING_ENTER    = 426
	SYS_IO_URING_REGISTER = 427
)

// io_uring_op - Operation codes for SQE. Only the opcodes the tape
// engine actually issues are kept: a NOP for probing ring liveness,
// fixed-offset READ/WRITE for the async I/O stage, and ASYNC_CANCEL
// to unwind a pending request on abort.
type Op uint8

const (
	IORING_OP_NOP          Op = 0
	IORING_OP_ASYNC_CANCEL Op = 14
	IORING_OP_READ         Op = 22
	IORING_OP_WRITE        Op = 23

	IORING_OP_LAST Op = IORING_OP_WRITE + 1 // Sentinel for bounds checking
)

// SQE flags (IOSQE_*)
const (
	IOSQE_ASYNC uint8 = 1 << 4 // Always use async execution
)

// Setup flags (IORING_SETUP_*)
const (
	IORING_SETUP_IOPOLL        uint32 = 1 << 0  // Use I/O polling
	IORING_SETUP_SQPOLL        uint32 = 1 << 1  // Kernel polls SQ
	IORING_SETUP_SQ_AFF        uint32 = 1 << 2  // Pin SQPOLL thread to CPU
	IORING_SETUP_CQSIZE        uint32 = 1 << 3  // App provides CQ size
	IORING_SETUP_SINGLE_ISSUER uint32 = 1 << 12 // Single task submits
)

// Feature flags (IORING_FEAT_*)
const (
	IORING_FEAT_SINGLE_MMAP uint32 = 1 << 0 // SQ/CQ share mmap
	IORING_FEAT_EXT_ARG     uint32 = 1 << 8 // Extended argument (timeout on wait)
)

// Enter flags (IORING_ENTER_*)
const (
	IORING_ENTER_GETEVENTS uint32 = 1 << 0 // Wait for events
	IORING_ENTER_SQ_WAKEUP uint32 = 1 << 1 // Wake SQPOLL thread
	IORING_ENTER_EXT_ARG   uint32 = 1 << 3 // arg is a GetEventsArg
)

// Register opcodes (IORING_REGISTER_*) used to wire an eventfd for
// completion notification and to probe supported opcodes.
const (
	IORING_REGISTER_EVENTFD   uint32 = 4
	IORING_UNREGISTER_EVENTFD uint32 = 5
	IORING_REGISTER_PROBE     uint32 = 8
)

// SQ ring flags
const (
	IORING_SQ_NEED_WAKEUP uint32 = 1 << 0 // SQPOLL needs wakeup
)

// mmap offsets for the ring buffers
const (
	IORING_OFF_SQ_RING uint64 = 0
	IORING_OFF_CQ_RING uint64 = 0x8000000
	IORING_OFF_SQES    uint64 = 0x10000000
)
