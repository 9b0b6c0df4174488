// Package tapeop defines the contract between the command parser/config
// loader (external to this module, see the root spec) and the core
// engine: the operation list the simulator walks and the copy
// orchestrator executes, the device interface the core drives, and the
// option flags that shape both.
package tapeop

import "github.com/c2h5oh/datasize"

// Kind identifies one tape operation. The set and payload shape is the
// fixed contract with the parser; renaming is fine, adding/removing is
// not.
type Kind int

const (
	SetCompression Kind = iota
	SetDataPadding
	SetECC
	SetReportSetmarks
	SetEOTWarningZone
	SetBlockSize
	LockTapeEject
	UnlockTapeEject

	LoadMedia
	UnloadMedia
	EraseTape
	ListTapeCapacity
	TapeTension
	MakePartition

	ListCurrentPosition
	MoveToOrigin
	MoveToEOD
	SetAbsPosition
	SetTapePosition
	MoveBlockNext
	MoveBlockPrev
	MoveFileNext
	MoveFilePrev
	MoveSmkNext
	MoveSmkPrev

	ReadData
	WriteData
	WriteDataAndFmk
	WriteFilemark
	WriteSetmark
	Truncate
)

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

var kindNames = map[Kind]string{
	SetCompression:      "SET_COMPRESSION",
	SetDataPadding:       "SET_DATA_PADDING",
	SetECC:               "SET_ECC",
	SetReportSetmarks:    "SET_REPORT_SETMARKS",
	SetEOTWarningZone:    "SET_EOT_WARNING_ZONE",
	SetBlockSize:         "SET_BLOCK_SIZE",
	LockTapeEject:        "LOCK_TAPE_EJECT",
	UnlockTapeEject:      "UNLOCK_TAPE_EJECT",
	LoadMedia:            "LOAD_MEDIA",
	UnloadMedia:          "UNLOAD_MEDIA",
	EraseTape:            "ERASE_TAPE",
	ListTapeCapacity:     "LIST_TAPE_CAPACITY",
	TapeTension:          "TAPE_TENSION",
	MakePartition:        "MAKE_PARTITION",
	ListCurrentPosition:  "LIST_CURRENT_POSITION",
	MoveToOrigin:         "MOVE_TO_ORIGIN",
	MoveToEOD:            "MOVE_TO_EOD",
	SetAbsPosition:       "SET_ABS_POSITION",
	SetTapePosition:      "SET_TAPE_POSITION",
	MoveBlockNext:        "MOVE_BLOCK_NEXT",
	MoveBlockPrev:        "MOVE_BLOCK_PREV",
	MoveFileNext:         "MOVE_FILE_NEXT",
	MoveFilePrev:         "MOVE_FILE_PREV",
	MoveSmkNext:          "MOVE_SMK_NEXT",
	MoveSmkPrev:          "MOVE_SMK_PREV",
	ReadData:             "READ_DATA",
	WriteData:            "WRITE_DATA",
	WriteDataAndFmk:      "WRITE_DATA_AND_FMK",
	WriteFilemark:        "WRITE_FILEMARK",
	WriteSetmark:         "WRITE_SETMARK",
	Truncate:             "TRUNCATE",
}

// PartitionMethod selects how MakePartition lays out the new partition.
// The core only threads this value through to the device; it never
// interprets the layout itself (out of scope, see Non-goals).
type PartitionMethod int

const (
	PartitionFixed PartitionMethod = iota
	PartitionVariable
)

// Operation is one node of the operation list. Only the fields the
// Kind's payload calls for are meaningful; the rest are zero. The list
// is a singly-linked FIFO by design: operations are appended once by
// the (external) parser and walked once, in order, by both the
// simulator and the executor, so there's no need for random access.
type Operation struct {
	Kind Kind

	Bool  bool
	Size  datasize.ByteSize
	Block uint64
	Count uint32

	Partition     uint32
	PartitionSize datasize.ByteSize
	Method        PartitionMethod

	Path string

	next *Operation
}

// OperationList is the singly-linked FIFO of operations produced by
// the (external) config/CLI merge step and consumed by the simulator
// and the executor.
type OperationList struct {
	head, tail *Operation
	count      int
}

// Append adds op to the end of the list.
func (l *OperationList) Append(op *Operation) {
	op.next = nil
	if l.tail == nil {
		l.head, l.tail = op, op
	} else {
		l.tail.next = op
		l.tail = op
	}
	l.count++
}

// Len returns the number of operations in the list.
func (l *OperationList) Len() int { return l.count }

// Front returns the first operation, or nil if the list is empty.
func (l *OperationList) Front() *Operation { return l.head }

// Next returns the operation following op, or nil at the end of the
// list.
func (op *Operation) Next() *Operation {
	if op == nil {
		return nil
	}
	return op.next
}

// Flags is the option bitmask the core receives from the merged
// config-file + command-line state. The core never parses these itself
// (see Non-goals); it only reacts to the bits listed here.
type Flags uint32

const (
	FlagExit Flags = 1 << iota
	FlagShowHelp
	FlagVerbose
	FlagVeryVerbose
	FlagQuiet
	FlagShowOperations
	FlagNoExtraChecks
	FlagNoOverwriteCheck
	FlagPromptOverwrite
	FlagTest
	FlagListDriveInfo
	FlagWindowsBuffering
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }
