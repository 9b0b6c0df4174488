package tapeop

// featureHighBit marks a feature constant as living in the high half of
// the drive's 64-bit feature bitfield (see drvinfo.c's high/low split).
// The low 63 bits of the constant are the actual bit position within
// whichever half it selects.
const featureHighBit uint64 = 1 << 63

// Feature constants consumed by the simulator's per-operation checks
// (§4.6). Bit positions mirror the original drive-capability layout;
// only the bits this engine actually gates on are named here.
const (
	FeatureCompression    uint64 = 1 << 0
	FeatureDataPadding    uint64 = 1 << 1
	FeatureECC            uint64 = 1 << 2
	FeatureReportSetmarks uint64 = 1 << 3
	FeatureLoad           uint64 = 1 << 4
	FeatureUnload         uint64 = 1 << 5
	FeaturePartition      uint64 = 1 << 6
	FeatureErase          uint64 = 1 << 7
	FeatureLockEject      uint64 = 1 << 8
	FeatureWriteFilemarks uint64 = 1 << 9
	FeatureWriteSetmarks  uint64 = 1 << 10
	FeatureAbsSeek        uint64 = 1 << 11
	FeatureLogicalSeek    uint64 = 1 << 12

	FeatureReverseSeek uint64 = featureHighBit | (1 << 0)
	FeatureTension     uint64 = featureHighBit | (1 << 1)
)

// DriveParameters describes the fixed capabilities of the attached
// drive, as reported by Device.DriveParameters.
type DriveParameters struct {
	ECC                   bool
	Compression           bool
	DataPadding           bool
	ReportSetmarks        bool
	EOTWarningZoneSize    uint64
	MinimumBlockSize      uint32
	MaximumBlockSize      uint32
	DefaultBlockSize      uint32
	MaximumPartitionCount uint32
	FeaturesLow           uint64
	FeaturesHigh          uint64
}

// HasFeature reports whether the drive advertises the given feature
// bit. bit's top bit selects FeaturesHigh over FeaturesLow; the
// remaining bits give the position within that half.
func (d DriveParameters) HasFeature(bit uint64) bool {
	if bit&featureHighBit != 0 {
		return d.FeaturesHigh&(bit&^featureHighBit) != 0
	}
	return d.FeaturesLow&bit != 0
}

// MediaParameters describes the currently loaded media, as reported by
// Device.MediaParameters.
type MediaParameters struct {
	BlockSize      uint32
	PartitionCount uint32
	WriteProtected bool
	Capacity       uint64
	Remaining      uint64
}

// PrepareAction is the action requested of Device.Prepare.
type PrepareAction int

const (
	PrepareLoad PrepareAction = iota
	PrepareUnload
	PrepareTension
	PrepareLock
	PrepareUnlock
)

// EraseMode distinguishes a quick erase from a full overwrite erase.
type EraseMode int

const (
	EraseShort EraseMode = iota
	EraseLong
)

// TapemarkKind distinguishes a filemark from a setmark.
type TapemarkKind int

const (
	TapemarkFile TapemarkKind = iota
	TapemarkSet
)

// PositionKind selects the addressing mode for Device.Position and
// Device.SetPosition.
type PositionKind int

const (
	PositionCurrent PositionKind = iota
	PositionOrigin
	PositionEOD
	PositionAbsoluteBlock
	PositionPartitionBlock
)

// Device is the tape device interface consumed by the core, abstracted
// from the host OS. A concrete implementation wraps the platform's raw
// ioctls (out of scope for this module); tapedev ships a file-backed
// loopback double that satisfies it for tests and for file-to-file
// copies.
type Device interface {
	DriveParameters() (DriveParameters, error)
	SetDriveParameters(DriveParameters) error
	MediaParameters() (MediaParameters, error)
	SetMediaParameters(MediaParameters) error

	Prepare(action PrepareAction) error
	Erase(mode EraseMode) error
	WriteTapemark(kind TapemarkKind, count uint32) error
	Position(kind PositionKind) (uint64, error)
	SetPosition(kind PositionKind, partition uint32, offset uint64) error

	// Fd exposes the raw descriptor the async I/O stage queues reads
	// and writes against via io_uring.
	Fd() int
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}
