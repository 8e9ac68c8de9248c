package handle

// sizeOfCacheLine is the assumed CPU cache line size used to pad
// hot atomic fields apart to avoid false sharing. 64 bytes is standard
// for x86-64; 128 bytes covers Apple Silicon and other ARM64 parts. We use
// the larger value to satisfy the widest common alignment requirement.
// Verified against golang.org/x/sys/cpu.CacheLinePad in align_test.go.
const sizeOfCacheLine = 128
