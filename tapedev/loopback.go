// Package tapedev ships concrete tapeop.Device implementations: a
// file-backed loopback double used to exercise the engine end to end
// without real hardware, and (on Linux) a minimal MTIO backend for an
// actual tape drive. Both live outside the core's scope (raw
// tape-device ioctl wrappers are an external collaborator's job) but
// are shipped here so the engine has something concrete to drive.
package tapedev

import (
	"errors"
	"os"
	"sync"

	"github.com/redshx86/tapectl/tapeop"
)

var _ tapeop.Device = (*Loopback)(nil)

// ErrWriteProtected is returned by write-shaped calls when the
// loopback media was constructed with WriteProtected set.
var ErrWriteProtected = errors.New("tapedev: media is write protected")

// Loopback is a tapeop.Device backed by a single regular file, treated
// as a flat tape image. Filemarks are recorded as a sorted list of
// byte offsets; EOD is the end of the backing file's data, or just past
// the last filemark when that lies further. Rewriting an earlier part
// of the image does not move EOD back. It exists to
// let copyengine and the simulator be driven against something real
// (including through the async io_uring path, since Fd returns a
// genuine descriptor) without requiring a physical drive.
type Loopback struct {
	mu sync.Mutex

	f    *os.File
	own  bool // Close closes f iff Loopback opened it
	path string

	drive tapeop.DriveParameters
	media tapeop.MediaParameters

	position  uint64
	filemarks []uint64 // sorted byte offsets of recorded filemarks
	atEOD     bool
}

// LoopbackConfig seeds the symbolic drive/media descriptors a Loopback
// reports. Capacity is the modelled media capacity; Drive is reported
// as given, so only the feature bits set in Drive are advertised.
type LoopbackConfig struct {
	Drive    tapeop.DriveParameters
	Capacity uint64
	WriteProtected bool
}

// OpenLoopback opens (creating if necessary) path as the backing tape
// image and returns a ready Device.
func OpenLoopback(path string, cfg LoopbackConfig) (*Loopback, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	l := &Loopback{
		f:    f,
		own:  true,
		path: path,
		drive: cfg.Drive,
		media: tapeop.MediaParameters{
			BlockSize:      cfg.Drive.DefaultBlockSize,
			PartitionCount: 1,
			WriteProtected: cfg.WriteProtected,
			Capacity:       cfg.Capacity,
			Remaining:      cfg.Capacity,
		},
		atEOD: true,
	}
	used := uint64(info.Size())
	if used > 0 {
		if used > cfg.Capacity {
			used = cfg.Capacity
		}
		l.media.Remaining = cfg.Capacity - used
		l.position = used
	}
	return l, nil
}

func (l *Loopback) DriveParameters() (tapeop.DriveParameters, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drive, nil
}

func (l *Loopback) SetDriveParameters(p tapeop.DriveParameters) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drive = p
	return nil
}

func (l *Loopback) MediaParameters() (tapeop.MediaParameters, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.media, nil
}

func (l *Loopback) SetMediaParameters(p tapeop.MediaParameters) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.media = p
	return nil
}

func (l *Loopback) Prepare(action tapeop.PrepareAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch action {
	case tapeop.PrepareLoad, tapeop.PrepareUnload, tapeop.PrepareTension,
		tapeop.PrepareLock, tapeop.PrepareUnlock:
		return nil
	default:
		return errors.New("tapedev: unknown prepare action")
	}
}

func (l *Loopback) Erase(mode tapeop.EraseMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.media.WriteProtected {
		return ErrWriteProtected
	}
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	l.position = 0
	l.filemarks = nil
	l.atEOD = true
	l.media.Remaining = l.media.Capacity
	return nil
}

func (l *Loopback) WriteTapemark(kind tapeop.TapemarkKind, count uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.media.WriteProtected {
		return ErrWriteProtected
	}
	if count == 0 {
		count = 1
	}
	for i := uint32(0); i < count; i++ {
		l.filemarks = append(l.filemarks, l.position)
		l.position++
	}
	l.atEOD = false
	return nil
}

func (l *Loopback) Position(kind tapeop.PositionKind) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch kind {
	case tapeop.PositionCurrent:
		return l.position, nil
	case tapeop.PositionOrigin:
		return 0, nil
	case tapeop.PositionEOD:
		return l.eodLocked(), nil
	default:
		return l.position, nil
	}
}

func (l *Loopback) eodLocked() uint64 {
	var eod uint64
	if info, err := l.f.Stat(); err == nil {
		eod = uint64(info.Size())
	}
	if n := len(l.filemarks); n > 0 {
		if last := l.filemarks[n-1]; last+1 > eod {
			eod = last + 1
		}
	}
	return eod
}

func (l *Loopback) SetPosition(kind tapeop.PositionKind, partition uint32, offset uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch kind {
	case tapeop.PositionOrigin:
		l.position = 0
		l.atEOD = false
	case tapeop.PositionEOD:
		l.position = l.eodLocked()
		l.atEOD = true
	case tapeop.PositionAbsoluteBlock, tapeop.PositionPartitionBlock:
		l.position = offset
		l.atEOD = false
	default:
		return errors.New("tapedev: unsupported position kind")
	}
	return nil
}

// Fd exposes the backing file's descriptor so the async I/O stage can
// queue real reads/writes against it through io_uring.
func (l *Loopback) Fd() int { return int(l.f.Fd()) }

func (l *Loopback) ReadAt(p []byte, off int64) (int, error) {
	return l.f.ReadAt(p, off)
}

func (l *Loopback) WriteAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	protected := l.media.WriteProtected
	l.mu.Unlock()
	if protected {
		return 0, ErrWriteProtected
	}
	n, err := l.f.WriteAt(p, off)
	l.mu.Lock()
	end := uint64(off) + uint64(n)
	if end > l.position {
		l.position = end
	}
	used := end
	if used > l.media.Capacity {
		l.media.Remaining = 0
	} else {
		l.media.Remaining = l.media.Capacity - used
	}
	l.atEOD = true
	l.mu.Unlock()
	return n, err
}

func (l *Loopback) Close() error {
	if !l.own {
		return nil
	}
	return l.f.Close()
}
