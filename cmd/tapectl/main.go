// Command tapectl is a thin wiring demo, not a CLI parser: argument
// parsing, config files, and message formatting stay external to the
// core. It takes two paths on argv — a file to copy and a
// loopback tape image to copy it onto — runs the operation through the
// simulator, and, if the simulator doesn't object, hands it to the
// executor against a tapedev.Loopback.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/redshx86/tapectl/executor"
	"github.com/redshx86/tapectl/ringbuf"
	"github.com/redshx86/tapectl/simulator"
	"github.com/redshx86/tapectl/tapedev"
	"github.com/redshx86/tapectl/tapeop"
)

func main() {
	var (
		tapeImage = flag.String("tape", "", "path to the loopback tape image")
		srcPath   = flag.String("src", "", "file to write onto the tape image")
		capacity  = flag.Uint64("capacity", 64<<20, "loopback tape capacity in bytes")
		verbose   = flag.Bool("v", false, "verbose logging")
		assumeYes = flag.Bool("y", false, "skip overwrite checks and proceed past every prompt, even one whose default answer is no")
	)
	flag.Parse()

	if *tapeImage == "" || *srcPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tapectl -tape <image> -src <file>")
		os.Exit(2)
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "logger init:", err)
			os.Exit(1)
		}
		log = l
	}
	defer log.Sync()

	if err := run(*tapeImage, *srcPath, *capacity, *assumeYes, log); err != nil {
		fmt.Fprintln(os.Stderr, "tapectl:", err)
		os.Exit(1)
	}
}

func run(tapeImage, srcPath string, capacity uint64, assumeYes bool, log *zap.Logger) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", srcPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", srcPath)
	}

	device, err := tapedev.OpenLoopback(tapeImage, tapedev.LoopbackConfig{
		Drive: tapeop.DriveParameters{
			MinimumBlockSize:      512,
			MaximumBlockSize:      16 << 20,
			DefaultBlockSize:      1 << 20,
			MaximumPartitionCount: 1,
			FeaturesLow: tapeop.FeatureLoad | tapeop.FeatureUnload |
				tapeop.FeatureErase | tapeop.FeatureWriteFilemarks |
				tapeop.FeatureWriteSetmarks | tapeop.FeatureAbsSeek |
				tapeop.FeatureLogicalSeek,
		},
		Capacity: capacity,
	})
	if err != nil {
		return fmt.Errorf("open loopback tape %q: %w", tapeImage, err)
	}
	defer device.Close()

	drive, err := device.DriveParameters()
	if err != nil {
		return err
	}
	media, err := device.MediaParameters()
	if err != nil {
		return err
	}

	ops := &tapeop.OperationList{}
	ops.Append(&tapeop.Operation{Kind: tapeop.WriteDataAndFmk, Path: srcPath})

	var flags tapeop.Flags
	if assumeYes {
		flags |= tapeop.FlagNoOverwriteCheck
	}

	result := simulator.Simulate(ops, &drive, &media, flags, log.Named("simulator"))
	for _, d := range result.Diagnostics {
		log.Info("diagnostic", zap.String("severity", d.Severity.String()), zap.String("message", d.Message))
	}

	switch result.Decision {
	case simulator.DecisionReject:
		return fmt.Errorf("simulator rejected the operation list, see diagnostics")
	case simulator.DecisionProceed:
		// fall through to execution
	default:
		if !assumeYes && !result.Default {
			return fmt.Errorf("operation needs confirmation and -y was not given")
		}
	}

	ring, err := ringbuf.New(false, 16<<20, 0)
	if err != nil {
		return fmt.Errorf("allocate ring buffer: %w", err)
	}
	defer ring.Free()

	ctx := context.Background()
	results := executor.Run(ctx, ops, device, executor.Params{
		Ring:          ring,
		IOBlockSize:   1 << 20,
		IOQueueDepth:  16,
		ThresBufDebuf: 4 << 20,
		CRCBufSize:    1 << 20,
		CRCBlockSize:  64 << 10,
		Flags:         flags,
		Log:           log.Named("executor"),
	})

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("operation %d (%s) failed: %w", r.Index, r.Op.Kind, r.Err)
		}
	}
	return nil
}
