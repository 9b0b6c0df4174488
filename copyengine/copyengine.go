// Package copyengine orchestrates one tape-copy operation: it wires a
// source I/O stage and a sink I/O stage to a shared ring buffer, drives
// them to completion while rendering a progress line, and reconciles
// their per-stage CRC32s once both have stopped.
package copyengine

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/redshx86/tapectl/checksum"
	"github.com/redshx86/tapectl/iostage"
	"github.com/redshx86/tapectl/ratecounter"
	"github.com/redshx86/tapectl/ringbuf"
)

// StatsRefreshInterval is how often the progress line is rewritten.
const StatsRefreshInterval = 250 * time.Millisecond

var (
	// ErrSustainConflict is returned when both sides ask to be the
	// sustained (tape) side; only one side can set the pace.
	ErrSustainConflict = errors.New("copyengine: at most one side may be SUSTAIN")
	// ErrBadAlignment is returned when the sink's block size is not a
	// multiple of its padding alignment.
	ErrBadAlignment = errors.New("copyengine: sink block size must be a multiple of its alignment")
	// ErrRingTooSmall is returned when the ring cannot hold the larger
	// of the two stages' blocks.
	ErrRingTooSmall = errors.New("copyengine: ring buffer smaller than the largest I/O block")
	// ErrCRCMismatch is the internal-invariant failure: the bytes the
	// source stage read and the bytes the sink stage wrote folded to
	// different CRC32s.
	ErrCRCMismatch = errors.New("copyengine: read/write CRC mismatch — data invalid")
	// ErrCancelled reports that the copy was stopped by abort (user
	// interrupt or a cancelled context) rather than by an I/O error.
	ErrCancelled = errors.New("copyengine: cancelled")
)

// Config describes one copy operation. Ring, SrcHandle and DstHandle
// are required; every other field has a workable zero value except
// SrcBlock/DstBlock, which must be set to a meaningful block size.
type Config struct {
	Ring *ringbuf.Buffer

	SustainWrite bool // the sink (destination) is the tape: pace to it
	SustainRead  bool // the source is the tape: pace to it

	SrcHandle   iostage.Handle
	SrcQueue    uint32
	SrcBlock    uint64
	SrcDataSize *uint64 // known total size, for pct/ETA; nil if unknown

	DstHandle iostage.Handle
	DstQueue  uint32
	DstBlock  uint64
	DstAlign  uint64

	ThresBufDebuf uint64

	CRCBufSize   uint64
	CRCBlockSize uint64

	Quiet    bool
	Progress io.Writer
	Log      *zap.Logger
}

// Result is what a completed (or cancelled) copy reports.
type Result struct {
	DataBytes   uint64
	PaddedBytes uint64
	CRC32       uint32
	Cancelled   bool
}

func (cfg Config) validate() error {
	if cfg.SustainWrite && cfg.SustainRead {
		return ErrSustainConflict
	}
	if cfg.DstAlign > 1 && cfg.DstBlock%cfg.DstAlign != 0 {
		return ErrBadAlignment
	}
	maxBlock := cfg.SrcBlock
	if cfg.DstBlock > maxBlock {
		maxBlock = cfg.DstBlock
	}
	if cfg.Ring.Size() < maxBlock {
		return ErrRingTooSmall
	}
	return nil
}

// Copy runs the full orchestrator protocol: it starts the sink then
// the source, waits on the combined event set, reconciles CRCs, and
// returns the outcome. A SIGINT/SIGTERM or an already-cancelled ctx
// raises abort exactly like filecopy.c's console-interrupt handler; a
// second signal is let through to the process's default disposition.
func Copy(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			signal.Stop(sigCh) // let a second press hit the default disposition
			cancel()
		case <-ctx.Done():
		}
	}()

	crcBuf := cfg.CRCBufSize
	crcBlock := cfg.CRCBlockSize

	srcCRC, err := checksum.Start(crcBuf, crcBlock, log)
	if err != nil {
		return Result{}, err
	}
	dstCRC, err := checksum.Start(crcBuf, crcBlock, log)
	if err != nil {
		return Result{}, err
	}

	sink := iostage.New(iostage.Config{
		Mode:          iostage.ModeWrite,
		Handle:        cfg.DstHandle,
		Ring:          cfg.Ring,
		Checksum:      dstCRC,
		BlockSize:     cfg.DstBlock,
		Align:         cfg.DstAlign,
		Queue:         cfg.DstQueue,
		Sustain:       cfg.SustainWrite,
		ThresBufDebuf: cfg.ThresBufDebuf,
		Log:           log,
	})
	source := iostage.New(iostage.Config{
		Mode:          iostage.ModeRead,
		Handle:        cfg.SrcHandle,
		Ring:          cfg.Ring,
		Checksum:      srcCRC,
		BlockSize:     cfg.SrcBlock,
		Queue:         cfg.SrcQueue,
		Sustain:       cfg.SustainRead,
		ThresBufDebuf: cfg.ThresBufDebuf,
		Log:           log,
	})

	// The sink and source stages are the two long-lived goroutines of the
	// orchestrator; errgroup owns their lifecycle instead of a bare
	// sync.WaitGroup, and g.Wait() returns once both Run calls have
	// returned. A panic in either stage is not recovered.
	var g errgroup.Group
	g.Go(func() error { sink.Run(); return nil })
	g.Go(func() error { source.Run(); return nil })

	rateRead := ratecounter.New()
	rateWrite := ratecounter.New()
	ticker := time.NewTicker(StatsRefreshInterval)
	defer ticker.Stop()

	aborted := false
	sourceDone := false

	render := func(flushing bool) {
		if cfg.Quiet || cfg.Progress == nil {
			return
		}
		renderProgress(progressState{
			ring:      cfg.Ring,
			sink:      sink,
			source:    source,
			rateRead:  rateRead,
			rateWrite: rateWrite,
			dataSize:  cfg.SrcDataSize,
			flushing:  flushing,
		}, cfg.Progress)
	}

waitForSource:
	for !sourceDone {
		select {
		case <-ctx.Done():
			aborted = true
			sink.Abort()
			source.Abort()
			break waitForSource
		case <-source.Done():
			sourceDone = true
			sink.Flush()
		case <-sink.Done():
			// Premature sink termination: the sink stopped before the
			// source ran out of data to give it.
			source.Abort()
			<-source.Done()
			break waitForSource
		case <-ticker.C:
			render(false)
		}
	}

	if sourceDone && !aborted {
	waitForSink:
		for {
			select {
			case <-ctx.Done():
				aborted = true
				sink.Abort()
				break waitForSink
			case <-sink.Done():
				break waitForSink
			case <-ticker.C:
				render(true)
			}
		}
	}

	_ = g.Wait() // Run never returns a non-nil error; Done()/Err() carry the real outcome

	if err := cfg.Ring.Reset(); err != nil {
		log.Warn("ring reset after copy failed", zap.Error(err))
	}

	srcFinal := srcCRC.Finish()
	dstFinal := dstCRC.Finish()

	result := Result{
		DataBytes:   sink.DataBytes(),
		PaddedBytes: sink.PaddedBytes(),
		CRC32:       dstFinal,
		Cancelled:   aborted,
	}

	switch {
	case !aborted && srcFinal != dstFinal:
		return result, ErrCRCMismatch
	case sink.Err() != nil && sink.Err() != iostage.ErrAborted:
		return result, sink.Err()
	case source.Err() != nil && source.Err() != iostage.ErrAborted:
		return result, source.Err()
	case aborted:
		return result, ErrCancelled
	default:
		return result, nil
	}
}
