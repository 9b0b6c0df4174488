//go:build linux && !ringbuf_debug

package ringbuf

func assertWindowStable(w *window, want uint64) {}
