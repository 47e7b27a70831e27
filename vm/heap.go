// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"encoding/binary"

	"github.com/holiman/bloomfilter/v2"
	mapset "github.com/deckarep/golang-set"
)

// DefaultHeapLimit bounds the total bytes a single invocation's heap may
// hold (§5's "Stack and heap have fixed maxima sized at build time").
const DefaultHeapLimit = 1 << 20 // 1 MiB

// lengthPrefixSize is the width of every heap run's authoritative length
// prefix (§3: "length-prefixed byte runs").
const lengthPrefixSize = 4

// region records one live allocation's byte range in the bump arena.
type region struct {
	offset uint32
	size   uint32
}

// handleHash lets a raw handle satisfy bloomfilter.Hash64 without an
// allocation.
type handleHash uint32

func (h handleHash) Sum64() uint64 { return uint64(h) }

// Heap is the bump-style arena backing strings and vectors (§3, §4.6). It
// never compacts: HEAP_FREE only invalidates a handle, per §3's "Heap
// handles issued within an invocation are unique and never re-used by the
// same invocation". A bloom filter pre-checks membership before consulting
// the authoritative live-handle set, mirroring the bloom-before-lookup
// shape the teacher's node uses ahead of its own state accesses.
type Heap struct {
	data    []byte
	regions map[uint32]region
	live    mapset.Set
	present *bloomfilter.Filter
	next    uint32
	limit   uint32
	used    uint32
}

// NewHeap allocates a fresh, empty Heap bounded at limit bytes. limit of 0
// uses DefaultHeapLimit.
func NewHeap(limit uint32) *Heap {
	if limit == 0 {
		limit = DefaultHeapLimit
	}
	f, err := bloomfilter.NewOptimal(1<<14, 1e-4)
	if err != nil {
		// NewOptimal only fails for a non-positive element count or
		// probability, neither of which the constants above are.
		panic("vm: building heap presence filter: " + err.Error())
	}
	return &Heap{
		data:    make([]byte, 0, 4096),
		regions: make(map[uint32]region),
		live:    mapset.NewSet(),
		present: f,
		limit:   limit,
	}
}

// Reset discards every live allocation, returning the Heap to its
// just-constructed state (§3: "the heap is reset per invocation").
func (h *Heap) Reset() {
	h.data = h.data[:0]
	h.regions = make(map[uint32]region)
	h.live = mapset.NewSet()
	f, err := bloomfilter.NewOptimal(1<<14, 1e-4)
	if err != nil {
		panic("vm: resetting heap presence filter: " + err.Error())
	}
	h.present = f
	h.next = 0
	h.used = 0
}

func (h *Heap) isLive(handle uint32) bool {
	if !h.present.Contains(handleHash(handle)) {
		return false
	}
	return h.live.Contains(handle)
}

// Alloc reserves n bytes (including the caller's length prefix, if any —
// callers that want a length-prefixed run pass 4+payload themselves) and
// returns a fresh handle.
func (h *Heap) Alloc(n uint32) (uint32, *Fault) {
	if n == 0 {
		n = lengthPrefixSize
	}
	if h.used+n > h.limit {
		return 0, fault(HeapExhausted, 0)
	}
	offset := uint32(len(h.data))
	h.data = append(h.data, make([]byte, n)...)
	handle := h.next
	h.next++
	h.regions[handle] = region{offset: offset, size: n}
	h.live.Add(handle)
	h.present.Add(handleHash(handle))
	h.used += n
	return handle, nil
}

// Free invalidates handle. Later access faults with BadHandle.
func (h *Heap) Free(handle uint32) *Fault {
	if !h.isLive(handle) {
		return fault(BadHandle, 0)
	}
	h.live.Remove(handle)
	return nil
}

func (h *Heap) region(handle uint32) (region, *Fault) {
	if !h.isLive(handle) {
		return region{}, fault(BadHandle, 0)
	}
	r, ok := h.regions[handle]
	if !ok {
		return region{}, fault(BadHandle, 0)
	}
	return r, nil
}

// bytes returns the full backing slice for handle, prefix included.
func (h *Heap) bytes(handle uint32) ([]byte, *Fault) {
	r, f := h.region(handle)
	if f != nil {
		return nil, f
	}
	return h.data[r.offset : r.offset+r.size], nil
}

// ReadByte reads the byte at offset within handle's raw run, length prefix
// included (offset 0 is the prefix's first byte). ReadByte/WriteByte back
// HEAP_LOAD/HEAP_STORE and match the compiler's storeWord convention;
// GetElement/SetElement below are the content-relative accessors.
func (h *Heap) ReadByte(handle, offset uint32) (byte, *Fault) {
	r, f := h.region(handle)
	if f != nil {
		return 0, f
	}
	if offset >= r.size {
		return 0, fault(HeapOutOfRange, 0)
	}
	return h.data[r.offset+offset], nil
}

// WriteByte writes v at offset within handle's raw run.
func (h *Heap) WriteByte(handle, offset uint32, v byte) *Fault {
	r, f := h.region(handle)
	if f != nil {
		return f
	}
	if offset >= r.size {
		return fault(HeapOutOfRange, 0)
	}
	h.data[r.offset+offset] = v
	return nil
}

// Len reads the 4-byte little-endian length prefix (§3/§4.6: "length
// prefixes are authoritative").
func (h *Heap) Len(handle uint32) (uint32, *Fault) {
	r, f := h.region(handle)
	if f != nil {
		return 0, f
	}
	if r.size < lengthPrefixSize {
		return 0, fault(HeapOutOfRange, 0)
	}
	return binary.LittleEndian.Uint32(h.data[r.offset:]), nil
}

func (h *Heap) setLen(handle uint32, n uint32) *Fault {
	r, f := h.region(handle)
	if f != nil {
		return f
	}
	binary.LittleEndian.PutUint32(h.data[r.offset:], n)
	return nil
}

// GetElement reads content byte idx (0-based, after the length prefix).
func (h *Heap) GetElement(handle, idx uint32) (byte, *Fault) {
	n, f := h.Len(handle)
	if f != nil {
		return 0, f
	}
	if idx >= n {
		return 0, fault(HeapOutOfRange, 0)
	}
	return h.ReadByte(handle, lengthPrefixSize+idx)
}

// SetElement overwrites content byte idx.
func (h *Heap) SetElement(handle, idx uint32, v byte) *Fault {
	n, f := h.Len(handle)
	if f != nil {
		return f
	}
	if idx >= n {
		return fault(HeapOutOfRange, 0)
	}
	return h.WriteByte(handle, lengthPrefixSize+idx, v)
}

// PushElement appends v after the current content, so long as the run's
// backing allocation (sized at HEAP_ALLOC time) has spare capacity; no
// compaction or reallocation occurs mid-invocation.
func (h *Heap) PushElement(handle uint32, v byte) *Fault {
	r, f := h.region(handle)
	if f != nil {
		return f
	}
	n, f := h.Len(handle)
	if f != nil {
		return f
	}
	if lengthPrefixSize+n >= r.size {
		return fault(HeapOutOfRange, 0)
	}
	if err := h.WriteByte(handle, lengthPrefixSize+n, v); err != nil {
		return err
	}
	return h.setLen(handle, n+1)
}

// PopElement removes and returns the last content byte.
func (h *Heap) PopElement(handle uint32) (byte, *Fault) {
	n, f := h.Len(handle)
	if f != nil {
		return 0, f
	}
	if n == 0 {
		return 0, fault(HeapOutOfRange, 0)
	}
	v, f := h.ReadByte(handle, lengthPrefixSize+n-1)
	if f != nil {
		return 0, f
	}
	if err := h.setLen(handle, n-1); err != nil {
		return 0, err
	}
	return v, nil
}

// Concat allocates a new run holding a's content followed by b's content.
func (h *Heap) Concat(a, b uint32) (uint32, *Fault) {
	na, f := h.Len(a)
	if f != nil {
		return 0, f
	}
	nb, f := h.Len(b)
	if f != nil {
		return 0, f
	}
	handle, f := h.Alloc(lengthPrefixSize + na + nb)
	if f != nil {
		return 0, f
	}
	if err := h.setLen(handle, na+nb); err != nil {
		return 0, err
	}
	for i := uint32(0); i < na; i++ {
		v, f := h.GetElement(a, i)
		if f != nil {
			return 0, f
		}
		if err := h.SetElement(handle, i, v); err != nil {
			return 0, err
		}
	}
	for i := uint32(0); i < nb; i++ {
		v, f := h.GetElement(b, i)
		if f != nil {
			return 0, f
		}
		if err := h.SetElement(handle, na+i, v); err != nil {
			return 0, err
		}
	}
	return handle, nil
}

// EqualBytes compares two runs' content (length and bytes).
func (h *Heap) EqualBytes(a, b uint32) (bool, *Fault) {
	na, f := h.Len(a)
	if f != nil {
		return false, f
	}
	nb, f := h.Len(b)
	if f != nil {
		return false, f
	}
	if na != nb {
		return false, nil
	}
	for i := uint32(0); i < na; i++ {
		va, f := h.GetElement(a, i)
		if f != nil {
			return false, f
		}
		vb, f := h.GetElement(b, i)
		if f != nil {
			return false, f
		}
		if va != vb {
			return false, nil
		}
	}
	return true, nil
}

// HashBytes computes an FNV-1a digest over a run's content, for the HASH
// opcode. It is a content hash for bytecode-visible values, unrelated to
// the build's region_fnv constants.
func (h *Heap) HashBytes(handle uint32) (uint64, *Fault) {
	n, f := h.Len(handle)
	if f != nil {
		return 0, f
	}
	const offsetBasis uint64 = 0xcbf29ce484222325
	const prime uint64 = 0x100000001b3
	hv := offsetBasis
	for i := uint32(0); i < n; i++ {
		b, f := h.GetElement(handle, i)
		if f != nil {
			return 0, f
		}
		hv ^= uint64(b)
		hv *= prime
	}
	return hv, nil
}

// Populate writes data as a fresh length-prefixed run and returns its
// handle — used once per invocation to seed the input heap slot.
func (h *Heap) Populate(data []byte) (uint32, *Fault) {
	handle, f := h.Alloc(lengthPrefixSize + uint32(len(data)))
	if f != nil {
		return 0, f
	}
	if err := h.setLen(handle, uint32(len(data))); err != nil {
		return 0, err
	}
	for i, b := range data {
		if err := h.SetElement(handle, uint32(i), b); err != nil {
			return 0, err
		}
	}
	return handle, nil
}

// LiveCount reports the number of handles currently allocated and not yet
// freed — §8 invariant 6 checks this reaches zero at HALT.
func (h *Heap) LiveCount() int { return h.live.Cardinality() }
