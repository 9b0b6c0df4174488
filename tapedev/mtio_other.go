//go:build !linux

package tapedev

import (
	"fmt"

	"github.com/redshx86/tapectl/tapeop"
)

var _ tapeop.Device = (*MTIO)(nil)

// MTIO is unavailable outside Linux: MTIOCTOP/MTIOCGET are a Linux
// st-driver idiom with no portable equivalent. Use Loopback for tests
// and non-Linux development.
type MTIO struct{}

// OpenMTIO always fails outside Linux.
func OpenMTIO(path string, drive tapeop.DriveParameters) (*MTIO, error) {
	return nil, fmt.Errorf("tapedev: MTIO backend requires linux")
}

func (m *MTIO) DriveParameters() (tapeop.DriveParameters, error)    { panic("unreachable") }
func (m *MTIO) SetDriveParameters(tapeop.DriveParameters) error     { panic("unreachable") }
func (m *MTIO) MediaParameters() (tapeop.MediaParameters, error)    { panic("unreachable") }
func (m *MTIO) SetMediaParameters(tapeop.MediaParameters) error     { panic("unreachable") }
func (m *MTIO) Prepare(tapeop.PrepareAction) error                  { panic("unreachable") }
func (m *MTIO) Erase(tapeop.EraseMode) error                        { panic("unreachable") }
func (m *MTIO) WriteTapemark(tapeop.TapemarkKind, uint32) error     { panic("unreachable") }
func (m *MTIO) Position(tapeop.PositionKind) (uint64, error)        { panic("unreachable") }
func (m *MTIO) SetPosition(tapeop.PositionKind, uint32, uint64) error {
	panic("unreachable")
}
func (m *MTIO) Fd() int                                 { panic("unreachable") }
func (m *MTIO) ReadAt(p []byte, off int64) (int, error) { panic("unreachable") }
func (m *MTIO) WriteAt(p []byte, off int64) (int, error) { panic("unreachable") }
func (m *MTIO) Close() error                             { panic("unreachable") }
