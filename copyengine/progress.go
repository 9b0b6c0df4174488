package copyengine

import (
	"fmt"
	"io"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/redshx86/tapectl/iostage"
	"github.com/redshx86/tapectl/ratecounter"
	"github.com/redshx86/tapectl/ringbuf"
)

type progressState struct {
	ring      *ringbuf.Buffer
	sink      *iostage.Stage
	source    *iostage.Stage
	rateRead  *ratecounter.Counter
	rateWrite *ratecounter.Counter
	dataSize  *uint64
	flushing  bool
}

// renderProgress writes one rewrite-on-CR progress line in the form
// "<written> [/ <total> (<pct>%)] <mode>:<rate>/s Buf:<filled> [ETA <hms>]".
func renderProgress(st progressState, w io.Writer) {
	now := time.Now().UnixMilli()
	written := st.sink.PaddedBytes()
	readRate := st.rateRead.Update(now, st.source.DataBytes())
	writeRate := st.rateWrite.Update(now, written)

	line := datasize.ByteSize(written).String()

	if st.dataSize != nil && *st.dataSize > 0 {
		total := *st.dataSize
		pct := float64(written) * 100 / float64(total)
		line += fmt.Sprintf(" / %s (%.1f%%)", datasize.ByteSize(total).String(), pct)
	}

	line += " " + modeLabel(st, readRate, writeRate)

	line += fmt.Sprintf(" Buf:%s", datasize.ByteSize(st.ring.DataAvail()).String())

	if st.dataSize != nil && writeRate > 0 && *st.dataSize > written {
		remaining := *st.dataSize - written
		line += " ETA " + formatHMS(time.Duration(float64(remaining)/writeRate*float64(time.Second)))
	}

	fmt.Fprintf(w, "\r%s", line)
}

func modeLabel(st progressState, readRate, writeRate float64) string {
	switch {
	case st.flushing || st.sink.Flags().Has(iostage.Flushing):
		return "Flushing"
	case st.sink.Flags().Has(iostage.Buffering):
		return "Buffering"
	case st.source.Flags().Has(iostage.Debuffering):
		return "Debuffering"
	default:
		return fmt.Sprintf("R:%s/s W:%s/s",
			datasize.ByteSize(readRate).HR(), datasize.ByteSize(writeRate).HR())
	}
}

func formatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
