//go:build linux && ringbuf_debug

package ringbuf

import "fmt"

// assertWindowStable panics if the window was remapped between when
// the caller captured want (its generation at acquire time) and now.
// The window gates already make this impossible — a remap always
// holds the gate the copy itself is holding — so this never fires in
// the release build; it exists to catch a broken gate invariant
// during development without paying for the check on the hot path.
func assertWindowStable(w *window, want uint64) {
	if w.generation != want {
		panic(fmt.Sprintf("ringbuf: window remapped under an in-flight copy (generation %d -> %d)", want, w.generation))
	}
}
