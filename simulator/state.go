package simulator

// Flags is the symbolic drive+media state flag word (spec §3). It is
// deliberately approximate: a lint over the operation list, not a
// specification of tape semantics, so several flags track "do we even
// know" (KnownCapacity, KnownRemaining, KnownPosition) separately from
// the value itself.
type Flags uint32

const (
	SinglePartition Flags = 1 << iota
	KnownCapacity
	Loaded
	Unloaded
	KnownRemaining
	Empty
	Dirty
	KnownPosition
	AtEndOfData
	LastOpNoFilemark
	LastOpFilemark
	PendingOverwriteMsg
	PendingWarning
	PendingError
)

func (f Flags) has(mask Flags) bool { return f&mask != 0 }

// State is the symbolic drive+media model the simulator threads
// through the operation list. Capacity/Remaining/Position are only
// meaningful while the corresponding Known* flag is set; once an
// operation's effect on one of them can't be determined (an unknowable
// seek, for instance) the flag is dropped rather than guessed.
type State struct {
	Flags Flags

	Capacity uint64
	Remaining uint64
	Position uint64

	Partition uint32
}

// CapThres is CAP_THRES(cap) = cap − cap/28, the "about 3.6% left"
// early-warning point used before a write is deemed to run off the
// tape.
func CapThres(cap uint64) uint64 {
	return cap - cap/28
}

func (s *State) set(f Flags)   { s.Flags |= f }
func (s *State) clear(f Flags) { s.Flags &^= f }
func (s *State) has(f Flags) bool { return s.Flags.has(f) }
