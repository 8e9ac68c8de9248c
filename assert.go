package handle

import "fmt"

// debugAssertionsEnabled gates assertf. It defaults to true, mirroring the
// source implementation's debug-build ASSERT macros; a hardened embedder
// that has already fuzzed/raced its handle usage may set this to false to
// drop the (small) per-call branch cost.
var debugAssertionsEnabled = true

// assertf panics if debugAssertionsEnabled and cond is false. It exists for
// the invariants the spec calls programming errors (releasing an
// out-of-range or already-invalid handle) — conditions a correct caller
// never triggers.
func assertf(cond bool, format string, args ...any) {
	if cond || !debugAssertionsEnabled {
		return
	}
	panic(fmt.Sprintf("handle: assertion failed: "+format, args...))
}
