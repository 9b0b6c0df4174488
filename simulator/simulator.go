// Package simulator implements the pre-execution operation simulator
// (spec §4.6): it walks a tape-operation list against a symbolic
// drive+media state, classifying each operation's concerns into error,
// warning, and overwrite diagnostics before anything touches the real
// device. It has no runtime data flow of its own — it only reads the
// operation list and produces diagnostics plus a go/no-go decision.
package simulator

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/redshx86/tapectl/tapeop"
)

// Severity classifies a diagnostic raised while simulating one
// operation.
type Severity int

const (
	// SevError vetoes execution outright.
	SevError Severity = iota
	// SevWarning surfaces a prompt but does not by itself veto.
	SevWarning
	// SevOverwrite flags a destructive action that may need user
	// consent, independent of Warning.
	SevOverwrite
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// Diagnostic is one concern raised against one operation in the list.
type Diagnostic struct {
	Severity Severity
	Index    int // position of Op within the operation list, 0-based
	Op       *tapeop.Operation
	Message  string
}

// Decision is the simulator's recommended next step once the whole
// operation list has been walked (spec §4.6 decision tree).
type Decision int

const (
	// DecisionReject means at least one error was raised; execution
	// must not proceed. NO_EXTRA_CHECKS may downgrade some errors to
	// warnings (see Simulate) before this decision is reached.
	DecisionReject Decision = iota
	// DecisionPromptWarning surfaces a confirmation prompt: a warning
	// was raised, or an overwrite was raised while PROMPT_OVERWRITE is
	// set. Result.Default tells which: false if any warning is present,
	// true for the overwrite-only/PROMPT_OVERWRITE case.
	DecisionPromptWarning
	// DecisionPromptShowOperations surfaces a confirmation prompt
	// defaulting to "yes", requested purely by SHOW_OPERATIONS with no
	// warnings or overwrites in play.
	DecisionPromptShowOperations
	// DecisionCountdownOverwrite surfaces a countdown prompt defaulting
	// to "yes" after N seconds unless interrupted: an overwrite was
	// raised and none of the above applied.
	DecisionCountdownOverwrite
	// DecisionProceed means nothing needs confirmation.
	DecisionProceed
)

// Result is the outcome of a full simulation pass.
type Result struct {
	Diagnostics []Diagnostic
	FinalState  State
	Decision    Decision
	// Default is the suggested answer for whichever prompt Decision
	// implies (meaningless for DecisionReject/DecisionProceed): true
	// everywhere except a plain warning prompt, which defaults to "no".
	Default bool
	// TestRun mirrors FlagTest: even a DecisionProceed must not reach
	// execution while this is set.
	TestRun bool
}

// HasSeverity reports whether any diagnostic in the result carries sev.
func (r Result) HasSeverity(sev Severity) bool {
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			return true
		}
	}
	return false
}

// CanExecute reports whether the simulation allows proceeding straight
// to execution without any prompt (DecisionProceed and not a dry run).
func (r Result) CanExecute() bool {
	return !r.TestRun && r.Decision == DecisionProceed
}

// pathChecker abstracts the filesystem so Simulate's READ_DATA/WRITE_DATA
// path validation can be exercised without touching the real disk in
// tests. Simulate wires osPathChecker{}.
type pathChecker interface {
	stat(path string) (isDir, exists, readOnly bool, size uint64, err error)
}

type osPathChecker struct{}

func (osPathChecker) stat(path string) (isDir, exists, readOnly bool, size uint64, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, false, false, 0, nil
		}
		return false, false, false, 0, statErr
	}
	if info.IsDir() {
		return true, true, false, 0, nil
	}
	readOnly = info.Mode().Perm()&0o200 == 0
	return false, true, readOnly, uint64(info.Size()), nil
}

// Simulate walks ops against the symbolic state seeded from drive and
// media (either may be nil, meaning the descriptor is unknown — e.g.
// no media loaded, or the drive hasn't answered yet). It returns every
// diagnostic raised, the state as it stood after the last operation,
// and the decision the §4.6 tree reaches over the whole list.
func Simulate(ops *tapeop.OperationList, drive *tapeop.DriveParameters, media *tapeop.MediaParameters, flags tapeop.Flags, log *zap.Logger) Result {
	if log == nil {
		log = zap.NewNop()
	}
	st := seedState(media)
	sim := &simulation{
		drive: drive,
		media: media,
		flags: flags,
		log:   log,
		paths: osPathChecker{},
	}

	var diags []Diagnostic
	idx := 0
	for op := ops.Front(); op != nil; op, idx = op.Next(), idx+1 {
		opDiags := sim.step(&st, op)
		for i := range opDiags {
			opDiags[i].Index = idx
			opDiags[i].Op = op
		}
		diags = append(diags, opDiags...)
	}

	for _, d := range diags {
		switch d.Severity {
		case SevError:
			log.Warn("simulator error", zap.Int("op", d.Index), zap.String("message", d.Message))
		case SevWarning:
			log.Info("simulator warning", zap.Int("op", d.Index), zap.String("message", d.Message))
		case SevOverwrite:
			log.Info("simulator overwrite", zap.Int("op", d.Index), zap.String("message", d.Message))
		}
	}

	decision, def := decide(diags, flags)
	return Result{
		Diagnostics: diags,
		FinalState:  st,
		Decision:    decision,
		Default:     def,
		TestRun:     flags.Has(tapeop.FlagTest),
	}
}

func seedState(media *tapeop.MediaParameters) State {
	var st State
	st.Flags |= SinglePartition
	if media == nil {
		st.Flags |= Unloaded
		return st
	}
	st.Flags |= Loaded | KnownCapacity | KnownRemaining | KnownPosition
	st.Capacity = media.Capacity
	st.Remaining = media.Remaining
	if media.Remaining == media.Capacity {
		// A blank tape's beginning-of-tape position is trivially its
		// end of data too: there's nothing recorded past it to
		// overwrite.
		st.Flags |= Empty | AtEndOfData
	}
	if media.PartitionCount > 1 {
		st.Flags &^= SinglePartition
	}
	return st
}

// decide implements the §4.6 decision tree, including the original's
// per-branch prompt default: `prompt(msg, !(st.flags & ST_WARNING))`
// answers "yes" by default unless a warning is present, "yes" for
// SHOW_OPERATIONS, and "yes" for the overwrite countdown. NO_EXTRA_CHECKS
// is applied earlier, in step(), by downgrading feature-mismatch errors
// to warnings before diagnostics ever reach here.
func decide(diags []Diagnostic, flags tapeop.Flags) (Decision, bool) {
	var hasErr, hasWarn, hasOverwrite bool
	for _, d := range diags {
		switch d.Severity {
		case SevError:
			hasErr = true
		case SevWarning:
			hasWarn = true
		case SevOverwrite:
			hasOverwrite = true
		}
	}
	switch {
	case hasErr:
		return DecisionReject, false
	case hasWarn:
		return DecisionPromptWarning, false
	case hasOverwrite && flags.Has(tapeop.FlagPromptOverwrite):
		return DecisionPromptWarning, true
	case flags.Has(tapeop.FlagShowOperations):
		return DecisionPromptShowOperations, true
	case hasOverwrite:
		if flags.Has(tapeop.FlagNoOverwriteCheck) {
			return DecisionProceed, true
		}
		return DecisionCountdownOverwrite, true
	default:
		return DecisionProceed, true
	}
}

type simulation struct {
	drive *tapeop.DriveParameters
	media *tapeop.MediaParameters
	flags tapeop.Flags
	log   *zap.Logger
	paths pathChecker
}

func (s *simulation) errorf(format string, args ...any) Diagnostic {
	sev := SevError
	msg := fmt.Sprintf(format, args...)
	if s.flags.Has(tapeop.FlagNoExtraChecks) {
		// NO_EXTRA_CHECKS only downgrades feature/capability mismatches;
		// callers that want a true, non-bypassable error call errHard.
		sev = SevWarning
	}
	return Diagnostic{Severity: sev, Message: msg}
}

func (s *simulation) errHard(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SevError, Message: fmt.Sprintf(format, args...)}
}

func (s *simulation) warnf(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SevWarning, Message: fmt.Sprintf(format, args...)}
}

func (s *simulation) overwritef(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SevOverwrite, Message: fmt.Sprintf(format, args...)}
}

func (s *simulation) hasFeature(bit uint64) bool {
	if s.drive == nil {
		return false
	}
	return s.drive.HasFeature(bit)
}

// step dispatches one operation and mutates st to reflect its modelled
// effect, returning whatever diagnostics it raised (Index/Op are filled
// in by the caller).
func (s *simulation) step(st *State, op *tapeop.Operation) []Diagnostic {
	switch op.Kind {
	case tapeop.SetCompression:
		return s.setDriveFlag(op, tapeop.FeatureCompression)
	case tapeop.SetDataPadding:
		return s.setDriveFlag(op, tapeop.FeatureDataPadding)
	case tapeop.SetECC:
		return s.setDriveFlag(op, tapeop.FeatureECC)
	case tapeop.SetReportSetmarks:
		return s.setDriveFlag(op, tapeop.FeatureReportSetmarks)

	case tapeop.SetEOTWarningZone:
		return nil

	case tapeop.SetBlockSize:
		return s.setBlockSize(st, op)

	case tapeop.LockTapeEject:
		return s.requireFeature(tapeop.FeatureLockEject)
	case tapeop.UnlockTapeEject:
		return s.requireFeature(tapeop.FeatureLockEject)

	case tapeop.LoadMedia:
		return s.loadMedia(st)
	case tapeop.UnloadMedia:
		return s.unloadMedia(st)

	case tapeop.EraseTape:
		return s.partitionOrErase(st, tapeop.FeatureErase)
	case tapeop.MakePartition:
		return s.makePartition(st)

	case tapeop.ListTapeCapacity, tapeop.ListCurrentPosition:
		return s.requireLoaded(st)
	case tapeop.TapeTension:
		return s.requireFeature(tapeop.FeatureTension)

	case tapeop.MoveToOrigin:
		return s.seek(st, tapeop.FeatureLogicalSeek, true, 0, 1)
	case tapeop.MoveToEOD:
		return s.moveToEOD(st)
	case tapeop.SetAbsPosition:
		return s.seek(st, tapeop.FeatureAbsSeek, false, op.Block, 1)
	case tapeop.SetTapePosition:
		return s.seek(st, tapeop.FeatureLogicalSeek, false, op.Block, op.Partition)

	case tapeop.MoveBlockNext, tapeop.MoveFileNext, tapeop.MoveSmkNext:
		return s.requireFeature(tapeop.FeatureLogicalSeek)
	case tapeop.MoveBlockPrev, tapeop.MoveFilePrev, tapeop.MoveSmkPrev:
		return s.seekReverse()

	case tapeop.ReadData:
		return s.readData(st, op)
	case tapeop.WriteData:
		return s.writeData(st, op, false)
	case tapeop.WriteDataAndFmk:
		return s.writeData(st, op, true)
	case tapeop.WriteFilemark:
		return s.writeTapemark(st, op, tapeop.FeatureWriteFilemarks, false)
	case tapeop.WriteSetmark:
		return s.writeTapemark(st, op, tapeop.FeatureWriteSetmarks, true)
	case tapeop.Truncate:
		return s.truncate(st)
	}
	return nil
}

func (s *simulation) setDriveFlag(op *tapeop.Operation, feature uint64) []Diagnostic {
	if !s.hasFeature(feature) {
		return []Diagnostic{s.errorf("drive does not support %s", op.Kind)}
	}
	return nil
}

func (s *simulation) requireFeature(feature uint64) []Diagnostic {
	if !s.hasFeature(feature) {
		return []Diagnostic{s.errorf("drive does not support this operation")}
	}
	return nil
}

func (s *simulation) requireLoaded(st *State) []Diagnostic {
	if !st.has(Loaded) {
		return []Diagnostic{s.errHard("no media loaded")}
	}
	return nil
}

func (s *simulation) setBlockSize(st *State, op *tapeop.Operation) []Diagnostic {
	var diags []Diagnostic
	if !st.has(Loaded) {
		diags = append(diags, s.errHard("no media loaded"))
	}
	size := uint64(op.Size.Bytes())
	if size != 0 && s.drive != nil {
		if size < uint64(s.drive.MinimumBlockSize) || size > uint64(s.drive.MaximumBlockSize) {
			diags = append(diags, s.errHard("block size %d out of range [%d, %d]", size, s.drive.MinimumBlockSize, s.drive.MaximumBlockSize))
		}
	}
	return diags
}

func (s *simulation) loadMedia(st *State) []Diagnostic {
	diags := s.requireFeature(tapeop.FeatureLoad)
	st.set(Loaded)
	st.clear(Unloaded)
	st.Position = 0
	st.set(KnownPosition)
	if st.has(Empty) {
		st.set(AtEndOfData)
	} else {
		st.clear(AtEndOfData)
	}
	return diags
}

func (s *simulation) unloadMedia(st *State) []Diagnostic {
	diags := s.requireFeature(tapeop.FeatureUnload)
	st.clear(Loaded | KnownCapacity | KnownRemaining | KnownPosition | AtEndOfData | Dirty | Empty)
	st.set(Unloaded)
	return diags
}

// partitionOrErase covers ERASE_TAPE: requires the feature, warns on a
// suspicious (dirty) prior state, requires overwrite consent unless
// the media is already empty, and resets remaining/dirty/position.
func (s *simulation) partitionOrErase(st *State, feature uint64) []Diagnostic {
	var diags []Diagnostic
	if !s.hasFeature(feature) {
		diags = append(diags, s.errorf("drive does not support erase"))
	}
	if st.has(Dirty) {
		diags = append(diags, s.warnf("erasing media that may contain unflushed writes"))
	}
	if !st.has(Empty) {
		diags = append(diags, s.overwritef("erase will destroy existing data on the media"))
	}
	if st.has(KnownCapacity) {
		st.Remaining = st.Capacity
		st.set(KnownRemaining | Empty)
	}
	st.clear(Dirty)
	st.Position = 0
	st.set(KnownPosition | AtEndOfData)
	return diags
}

// makePartition preserves the documented SinglePartition quirk from
// original_source/src/cmdcheck.c. The reference condition is
// `(st->drive != NULL) || (st->drive->MaximumPartitionCount > 1)` — an
// `||` where the feature-support check two lines above uses `&&`. Since
// "drive != NULL" alone already satisfies an `||`, the clause clears
// ST_SINGLE_PARTITION for *every* non-nil drive regardless of its
// actual MaximumPartitionCount, and would dereference a null drive to
// evaluate the right-hand side if drive were nil (never exercised in
// the original, since a nil drive already fails the capability check
// above and callers treat that as fatal). The Go port can't reproduce
// a null-pointer crash as "intended" behavior, so it preserves the
// observable effect for both cases uniformly: SinglePartition is
// always cleared here, independent of drive or its capability. See
// DESIGN.md and TestMakePartitionNilDriveClearsSinglePartitionQuirk.
func (s *simulation) makePartition(st *State) []Diagnostic {
	var diags []Diagnostic
	if !s.hasFeature(tapeop.FeaturePartition) {
		diags = append(diags, s.errorf("drive does not support partitioning"))
	}
	if st.has(Dirty) {
		diags = append(diags, s.warnf("partitioning media that may contain unflushed writes"))
	}
	if !st.has(Empty) {
		diags = append(diags, s.overwritef("partitioning will destroy existing data on the media"))
	}
	st.clear(SinglePartition)
	if st.has(KnownCapacity) {
		st.Remaining = st.Capacity
		st.set(KnownRemaining | Empty)
	}
	st.clear(Dirty)
	st.Position = 0
	st.set(KnownPosition | AtEndOfData)
	return diags
}

func (s *simulation) moveToEOD(st *State) []Diagnostic {
	diags := s.requireFeature(tapeop.FeatureLogicalSeek)
	st.clear(KnownPosition)
	st.set(AtEndOfData)
	return diags
}

// seek updates the modelled position only when the target is origin
// (block 0, partition implicitly current) or block 0 of partition 1 —
// the two cases spec §4.6 calls out as knowable without consulting the
// drive. Every other seek drops KnownPosition rather than guess.
func (s *simulation) seek(st *State, feature uint64, toOrigin bool, block uint64, partition uint32) []Diagnostic {
	diags := s.requireFeature(feature)
	if toOrigin || (block == 0 && partition == 1) {
		st.Position = 0
		st.set(KnownPosition)
	} else {
		st.clear(KnownPosition)
	}
	st.clear(AtEndOfData)
	return diags
}

func (s *simulation) seekReverse() []Diagnostic {
	var diags []Diagnostic
	if !s.hasFeature(tapeop.FeatureLogicalSeek) {
		diags = append(diags, s.errorf("drive does not support seeking"))
	}
	if !s.hasFeature(tapeop.FeatureReverseSeek) {
		diags = append(diags, s.errorf("drive does not support reverse seeking"))
	}
	return diags
}

func (s *simulation) readData(st *State, op *tapeop.Operation) []Diagnostic {
	var diags []Diagnostic
	if st.has(Empty) || st.has(AtEndOfData) {
		diags = append(diags, s.warnf("media is empty or at end of data; read will return nothing"))
	}

	isDir, exists, readOnly, _, err := s.paths.stat(op.Path)
	switch {
	case err != nil:
		diags = append(diags, s.errHard("cannot access %q: %v", op.Path, err))
	case op.Path == "":
		diags = append(diags, s.errHard("no destination file path given"))
	case isDir:
		diags = append(diags, s.errHard("%q is a directory", op.Path))
	case exists && readOnly:
		diags = append(diags, s.errHard("%q exists and is read-only", op.Path))
	case exists:
		diags = append(diags, s.overwritef("%q exists and will be overwritten", op.Path))
	}

	st.clear(Dirty | KnownPosition)
	return diags
}

func (s *simulation) writeData(st *State, op *tapeop.Operation, withFilemark bool) []Diagnostic {
	var diags []Diagnostic
	if s.media != nil && s.media.WriteProtected {
		diags = append(diags, s.errHard("media is write protected"))
	}

	size, err := s.sourceFileSize(op.Path)
	if err != nil {
		diags = append(diags, s.errHard("cannot determine size of %q: %v", op.Path, err))
	}

	if st.has(KnownCapacity) {
		thres := CapThres(st.Capacity)
		if size > thres {
			diags = append(diags, s.warnf("%q by itself will cross the end of media", op.Path))
		} else if st.has(KnownPosition) && st.Position+size > thres {
			diags = append(diags, s.warnf("writing %q will cross the end of media", op.Path))
		}
	}

	if st.has(LastOpNoFilemark) {
		diags = append(diags, s.warnf("previous operation left no filemark before this write"))
	}

	if !st.has(AtEndOfData) {
		diags = append(diags, s.overwritef("write will overwrite existing data past the current position"))
	}

	st.set(Dirty)
	st.clear(Empty)
	if st.has(KnownPosition) {
		st.Position += size
		if st.has(KnownRemaining) {
			if size > st.Remaining {
				st.Remaining = 0
			} else {
				st.Remaining -= size
			}
		}
	} else {
		st.clear(KnownPosition)
	}
	st.set(AtEndOfData)
	if withFilemark {
		st.clear(LastOpNoFilemark)
		st.set(LastOpFilemark)
	} else {
		st.set(LastOpNoFilemark)
		st.clear(LastOpFilemark)
	}
	return diags
}

func (s *simulation) sourceFileSize(path string) (uint64, error) {
	_, exists, _, size, err := s.paths.stat(path)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%q does not exist", path)
	}
	return size, nil
}

func (s *simulation) writeTapemark(st *State, op *tapeop.Operation, feature uint64, isSetmark bool) []Diagnostic {
	var diags []Diagnostic
	if s.media != nil && s.media.WriteProtected {
		diags = append(diags, s.errHard("media is write protected"))
	}
	if !s.hasFeature(feature) {
		diags = append(diags, s.errorf("drive does not support this tapemark type"))
	}

	count := op.Count
	if count == 0 {
		count = 1
	}
	suspicious := (st.has(KnownPosition) && st.Position == 0) || st.has(LastOpFilemark) || count > 1
	if suspicious {
		diags = append(diags, s.warnf("writing a tapemark here looks unintentional"))
	}

	if st.has(KnownPosition) {
		st.Position++
	}
	st.clear(AtEndOfData)
	if isSetmark {
		st.clear(LastOpFilemark)
	} else {
		st.set(LastOpFilemark)
	}
	st.clear(LastOpNoFilemark)
	return diags
}

func (s *simulation) truncate(st *State) []Diagnostic {
	var diags []Diagnostic
	if s.media != nil && s.media.WriteProtected {
		diags = append(diags, s.errHard("media is write protected"))
	}
	if st.has(AtEndOfData) {
		diags = append(diags, s.warnf("already at end of data; truncate is a no-op"))
	} else {
		diags = append(diags, s.overwritef("truncate will discard all data past the current position"))
	}
	st.set(AtEndOfData)
	if st.has(KnownCapacity) && st.has(KnownPosition) {
		st.Remaining = st.Capacity - st.Position
		st.set(KnownRemaining)
	}
	return diags
}
