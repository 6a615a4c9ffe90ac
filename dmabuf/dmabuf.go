// Package dmabuf provides buffers safe to hand to a DMA channel: pinned
// against the Go garbage collector's relocation/collection for the duration
// of a transfer, and aligned/padded the way the PIO FIFO word transfers
// need. DMA on this target addresses normal RAM directly, with no
// virtual-to-physical remapping to account for.
package dmabuf

import (
	"runtime"
	"slices"
	"unsafe"
)

// WordSize is the DMA transfer unit: one 32-bit PIO FIFO word.
const WordSize = 4

// Pinner is a lightweight version of runtime.Pinner, kept separate because
// runtime.Pinner requires cgocheck support this target's toolchain doesn't
// provide. Buffers handed to a DMA channel must be pinned before the
// transfer starts and unpinned only after the channel's completion
// interrupt has fired.
type Pinner struct {
	*pinner
}

type pinner struct {
	// The object is pinned by keeping a reference from heap to it, forcing
	// it to escape (only stack pointers can point into a stack, and the
	// stack may move). go vet won't catch a missing Unpin; the finalizer
	// below turns that into a panic instead of a silent use-after-free.
	refs []unsafe.Pointer
}

type eface struct {
	_type, data unsafe.Pointer
}

// Pin keeps pointer's backing memory from moving or being collected until
// Unpin is called for the same Pinner.
func (p *Pinner) Pin(pointer any) {
	if p.pinner == nil {
		p.pinner = new(pinner)
		p.refs = make([]unsafe.Pointer, 0, 8)
		runtime.SetFinalizer(p.pinner, func(i *pinner) {
			if len(i.refs) != 0 {
				panic("dmabuf.Pinner: memory leak")
			}
		})
	}
	itf := (*eface)(unsafe.Pointer(&pointer))

	if !slices.Contains(p.refs, itf.data) {
		p.refs = append(p.refs, itf.data)
	}
}

// Unpin releases every pointer pinned on this Pinner.
func (p *Pinner) Unpin() {
	if p.pinner == nil {
		return
	}
	clear(p.refs[:])
	p.refs = p.refs[:0]
}

// PinSlice pins a slice's backing array on p.
func PinSlice[T any](p *Pinner, slice []T) {
	p.Pin(unsafe.SliceData(slice))
}

// MakePaddedSlice returns a []T of len size whose start is aligned to
// WordSize and whose end is padded to the next word boundary, so the PIO
// FIFO's word-at-a-time DMA never reads or writes past the allocation.
func MakePaddedSlice[T any](size int) []T {
	var t T
	wordsPerPad := WordSize / int(unsafe.Sizeof(t))
	if wordsPerPad < 1 {
		wordsPerPad = 1
	}
	buf := make([]T, 0, wordsPerPad+size+wordsPerPad)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	shift := (WordSize - int(addr)%WordSize) / int(unsafe.Sizeof(t))
	return buf[shift : shift+size]
}

// IsPadded reports whether p is safe to hand to a word-granular DMA
// transfer: word-aligned and with enough trailing capacity to round up to
// the next word.
func IsPadded[T any](p []T) bool {
	var t T
	wordsPerPad := WordSize / int(unsafe.Sizeof(t))
	if wordsPerPad < 1 {
		wordsPerPad = 1
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	return addr%WordSize == 0 && cap(p)-len(p) >= wordsPerPad-len(p)%wordsPerPad
}

// Writeback ensures addr..addr+length is visible to a DMA reader. It's a
// no-op on Cortex-M0+, which has no data cache, but is kept so this package
// has the same shape on a future target that does cache RAM.
func Writeback(addr uintptr, length int) {}

// Invalidate ensures a subsequent CPU read of addr..addr+length observes
// what DMA wrote there. Same no-op-on-this-target note as Writeback.
func Invalidate(addr uintptr, length int) {}
