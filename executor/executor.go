// Package executor is the tape-operation adapter (spec §2, §6): it
// maps each tapeop.Operation to the device call that implements it,
// and wraps READ_DATA/WRITE_DATA/WRITE_DATA_AND_FMK through the copy
// orchestrator so a single file-to-tape or tape-to-file transfer runs
// at the engine's sustained throughput instead of one os.File call.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/redshx86/tapectl/copyengine"
	"github.com/redshx86/tapectl/ringbuf"
	"github.com/redshx86/tapectl/tapeop"
)

// ErrSkipped marks an operation that was never attempted because an
// earlier operation in the same run failed or was cancelled (spec §7:
// "subsequent operations are skipped").
var ErrSkipped = errors.New("executor: skipped after a prior failure")

// Params bundles the numeric knobs the adapter needs to drive
// copyengine for the data operations; everything else comes from the
// operation list itself.
type Params struct {
	Ring *ringbuf.Buffer

	IOBlockSize  uint64
	IOQueueDepth uint32
	TapeAlign    uint64 // write alignment when WindowsBuffering is off; 0/1 = none

	ThresBufDebuf uint64
	CRCBufSize    uint64
	CRCBlockSize  uint64

	Flags tapeop.Flags
	Log   *zap.Logger

	// Progress, if non-nil, is called once with the copy's Result after
	// each data operation's copy returns. No per-tick progress line is
	// rendered.
	Progress func(copyengine.Result)
}

// OpResult is the outcome of one executed operation.
type OpResult struct {
	Index int
	Op    *tapeop.Operation
	Err   error
	Copy  *copyengine.Result // set only for data operations
}

// Run executes ops in order against device. It stops at the first
// fatal error or at ctx cancellation, recording ErrSkipped for every
// operation after that point, and returns every OpResult so the caller
// can report exactly how many operations completed, matching spec §7's
// "report how many operations were skipped".
func Run(ctx context.Context, ops *tapeop.OperationList, device tapeop.Device, p Params) []OpResult {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	results := make([]OpResult, 0, ops.Len())

	fatal := false
	idx := 0
	for op := ops.Front(); op != nil; op, idx = op.Next(), idx+1 {
		if fatal {
			results = append(results, OpResult{Index: idx, Op: op, Err: ErrSkipped})
			continue
		}
		if ctx.Err() != nil {
			fatal = true
			results = append(results, OpResult{Index: idx, Op: op, Err: ctx.Err()})
			continue
		}

		res := OpResult{Index: idx, Op: op}
		err := dispatch(ctx, device, op, p, &res)
		res.Err = err
		results = append(results, res)

		if err != nil && !isInformational(err) {
			log.Error("operation failed", zap.Int("op", idx), zap.String("kind", op.Kind.String()), zap.Error(err))
			fatal = true
		}
	}
	return results
}

// isInformational reports whether err is one of the transient
// stream-end markers spec §4.4/§7 treat as informational rather than
// fatal (filemark, setmark, EOD, EOT surfaced by the tape side).
func isInformational(err error) bool {
	return errors.Is(err, ErrEndOfData) || errors.Is(err, ErrFilemark) ||
		errors.Is(err, ErrSetmark) || errors.Is(err, ErrEndOfTape)
}

// Informational stream-end markers (spec glossary); the device
// implementations this adapter drives (tapedev) don't currently raise
// them on their own, but callers that do need to report them through
// these sentinels with %w so isInformational still recognizes them.
var (
	ErrEndOfData = errors.New("executor: end of data")
	ErrFilemark  = errors.New("executor: filemark")
	ErrSetmark   = errors.New("executor: setmark")
	ErrEndOfTape = errors.New("executor: end of tape")
)

func dispatch(ctx context.Context, device tapeop.Device, op *tapeop.Operation, p Params, res *OpResult) error {
	switch op.Kind {
	case tapeop.SetCompression:
		return setDriveBool(device, op.Bool, func(dp *tapeop.DriveParameters) *bool { return &dp.Compression })
	case tapeop.SetDataPadding:
		return setDriveBool(device, op.Bool, func(dp *tapeop.DriveParameters) *bool { return &dp.DataPadding })
	case tapeop.SetECC:
		return setDriveBool(device, op.Bool, func(dp *tapeop.DriveParameters) *bool { return &dp.ECC })
	case tapeop.SetReportSetmarks:
		return setDriveBool(device, op.Bool, func(dp *tapeop.DriveParameters) *bool { return &dp.ReportSetmarks })

	case tapeop.SetEOTWarningZone:
		dp, err := device.DriveParameters()
		if err != nil {
			return err
		}
		dp.EOTWarningZoneSize = uint64(op.Size.Bytes())
		return device.SetDriveParameters(dp)

	case tapeop.SetBlockSize:
		mp, err := device.MediaParameters()
		if err != nil {
			return err
		}
		mp.BlockSize = uint32(op.Size.Bytes())
		return device.SetMediaParameters(mp)

	case tapeop.LockTapeEject:
		return device.Prepare(tapeop.PrepareLock)
	case tapeop.UnlockTapeEject:
		return device.Prepare(tapeop.PrepareUnlock)

	case tapeop.LoadMedia:
		return device.Prepare(tapeop.PrepareLoad)
	case tapeop.UnloadMedia:
		return device.Prepare(tapeop.PrepareUnload)
	case tapeop.TapeTension:
		return device.Prepare(tapeop.PrepareTension)

	case tapeop.EraseTape:
		return device.Erase(tapeop.EraseLong)

	case tapeop.MakePartition:
		mp, err := device.MediaParameters()
		if err != nil {
			return err
		}
		mp.PartitionCount = op.Count
		if mp.PartitionCount == 0 {
			mp.PartitionCount = 1
		}
		return device.SetMediaParameters(mp)

	case tapeop.ListTapeCapacity, tapeop.ListCurrentPosition:
		// Informational-only ops: the caller (out of scope, see spec
		// §1's "message filtering/formatting" collaborator) reads
		// MediaParameters/Position itself; nothing to execute here.
		return nil

	case tapeop.MoveToOrigin:
		return device.SetPosition(tapeop.PositionOrigin, 0, 0)
	case tapeop.MoveToEOD:
		return device.SetPosition(tapeop.PositionEOD, 0, 0)
	case tapeop.SetAbsPosition:
		return device.SetPosition(tapeop.PositionAbsoluteBlock, 0, op.Block)
	case tapeop.SetTapePosition:
		return device.SetPosition(tapeop.PositionPartitionBlock, op.Partition, op.Block)

	case tapeop.MoveBlockNext:
		return moveCount(device, tapeop.PositionAbsoluteBlock, op.Count, true)
	case tapeop.MoveBlockPrev:
		return moveCount(device, tapeop.PositionAbsoluteBlock, op.Count, false)
	}
	return dispatchSlow(ctx, device, op, p, res)
}

// moveCount is a best-effort relative move for the MOVE_BLOCK_* ops:
// the simulator only needs to know these are seeks (spec §4.6); the
// real device call for a relative move is drive-specific and out of
// this engine's scope (tapedev's backends accept an absolute target
// only), so this issues a SetPosition to the adapter's best estimate
// and lets the device report a real error if it disagrees.
func moveCount(device tapeop.Device, kind tapeop.PositionKind, count uint32, forward bool) error {
	if count == 0 {
		count = 1
	}
	cur, err := device.Position(tapeop.PositionCurrent)
	if err != nil {
		return err
	}
	var target uint64
	if forward {
		target = cur + uint64(count)
	} else if cur >= uint64(count) {
		target = cur - uint64(count)
	}
	return device.SetPosition(kind, 0, target)
}

func setDriveBool(device tapeop.Device, v bool, field func(*tapeop.DriveParameters) *bool) error {
	dp, err := device.DriveParameters()
	if err != nil {
		return err
	}
	*field(&dp) = v
	return device.SetDriveParameters(dp)
}

// dispatchSlow handles the operations dispatch's switch didn't finish
// because they either recurse into MOVE_FILE/MOVE_SMK (the same
// best-effort relative-move path as MOVE_BLOCK_*) or run a full copy
// (READ_DATA/WRITE_DATA*), plus WRITE_FILEMARK/WRITE_SETMARK/TRUNCATE.
func dispatchSlow(ctx context.Context, device tapeop.Device, op *tapeop.Operation, p Params, res *OpResult) error {
	switch op.Kind {
	case tapeop.MoveFileNext:
		return moveCount(device, tapeop.PositionAbsoluteBlock, op.Count, true)
	case tapeop.MoveFilePrev:
		return moveCount(device, tapeop.PositionAbsoluteBlock, op.Count, false)
	case tapeop.MoveSmkNext:
		return moveCount(device, tapeop.PositionAbsoluteBlock, op.Count, true)
	case tapeop.MoveSmkPrev:
		return moveCount(device, tapeop.PositionAbsoluteBlock, op.Count, false)

	case tapeop.WriteFilemark:
		return device.WriteTapemark(tapeop.TapemarkFile, op.Count)
	case tapeop.WriteSetmark:
		return device.WriteTapemark(tapeop.TapemarkSet, op.Count)

	case tapeop.Truncate:
		return device.Erase(tapeop.EraseShort)

	case tapeop.ReadData:
		return runRead(ctx, device, op, p, res)
	case tapeop.WriteData:
		return runWrite(ctx, device, op, p, res, false)
	case tapeop.WriteDataAndFmk:
		return runWrite(ctx, device, op, p, res, true)
	}
	return fmt.Errorf("executor: unhandled operation kind %s", op.Kind)
}

func runRead(ctx context.Context, device tapeop.Device, op *tapeop.Operation, p Params, res *OpResult) error {
	f, err := os.OpenFile(op.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("executor: open %q: %w", op.Path, err)
	}
	defer f.Close()

	cfg := copyengine.Config{
		Ring:          p.Ring,
		SustainRead:   true,
		SrcHandle:     device,
		SrcQueue:      p.IOQueueDepth,
		SrcBlock:      p.IOBlockSize,
		DstHandle:     f,
		DstQueue:      1,
		DstBlock:      p.IOBlockSize,
		ThresBufDebuf: p.ThresBufDebuf,
		CRCBufSize:    p.CRCBufSize,
		CRCBlockSize:  p.CRCBlockSize,
		Quiet:         p.Progress == nil,
		Log:           p.Log,
	}
	out, err := copyengine.Copy(ctx, cfg)
	res.Copy = &out
	if p.Progress != nil {
		p.Progress(out)
	}
	return err
}

func runWrite(ctx context.Context, device tapeop.Device, op *tapeop.Operation, p Params, res *OpResult, withFilemark bool) error {
	f, err := os.Open(op.Path)
	if err != nil {
		return fmt.Errorf("executor: open %q: %w", op.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := uint64(info.Size())

	align := p.TapeAlign
	if p.Flags.Has(tapeop.FlagWindowsBuffering) {
		align = 0
	}

	cfg := copyengine.Config{
		Ring:          p.Ring,
		SustainWrite:  true,
		SrcHandle:     f,
		SrcQueue:      1,
		SrcBlock:      p.IOBlockSize,
		SrcDataSize:   &size,
		DstHandle:     device,
		DstQueue:      p.IOQueueDepth,
		DstBlock:      p.IOBlockSize,
		DstAlign:      align,
		ThresBufDebuf: p.ThresBufDebuf,
		CRCBufSize:    p.CRCBufSize,
		CRCBlockSize:  p.CRCBlockSize,
		Quiet:         p.Progress == nil,
		Log:           p.Log,
	}
	out, err := copyengine.Copy(ctx, cfg)
	res.Copy = &out
	if p.Progress != nil {
		p.Progress(out)
	}
	if err != nil {
		return err
	}
	if withFilemark {
		return device.WriteTapemark(tapeop.TapemarkFile, 1)
	}
	return nil
}
