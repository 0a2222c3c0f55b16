// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

// ReassemblerStats counts what happened to the bytes fed to a Reassembler.
type ReassemblerStats struct {
	BytesIn        uint64 // bytes offered to Feed
	BytesTruncated uint64 // bytes refused because the buffer was full
	BytesSkipped   uint64 // noise discarded ahead of a frame
	BytesOverflow  uint64 // bytes discarded by the overflow policy
	Frames         uint64
	Overflows      uint64
}

// Reassembler recovers frames from an unframed byte stream.
//
// Bytes are accumulated in a fixed-capacity buffer. Each Feed extracts every
// complete frame, shifts consumed bytes out, and trims the buffer to its most
// recent OverflowKeep bytes when more than HighWaterMark bytes remain without
// a frame. A Reassembler is not safe for concurrent use.
type Reassembler struct {
	buf    []byte
	length int
	stats  ReassemblerStats
}

// NewReassembler creates a reassembler. Capacities below DefaultCapacity are
// raised to DefaultCapacity.
func NewReassembler(capacity int) *Reassembler {
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Reassembler{buf: make([]byte, capacity)}
}

// Feed appends p and returns the records completed by it, oldest first.
// Bytes beyond the free capacity are dropped silently.
func (r *Reassembler) Feed(p []byte) []Telemetry {
	r.stats.BytesIn += uint64(len(p))

	free := len(r.buf) - r.length
	if len(p) > free {
		r.stats.BytesTruncated += uint64(len(p) - free)
		p = p[:free]
	}
	r.length += copy(r.buf[r.length:], p)

	var records []Telemetry
	for {
		offset, n, ok := FindFrame(r.buf, r.length)
		if !ok {
			break
		}
		t, err := Decode(r.buf[offset : offset+n])
		if err == nil {
			records = append(records, t)
			r.stats.Frames++
		}
		r.stats.BytesSkipped += uint64(offset)
		r.discard(offset + n)
	}

	if r.length > HighWaterMark {
		dropped := r.length - OverflowKeep
		r.discard(dropped)
		r.stats.BytesOverflow += uint64(dropped)
		r.stats.Overflows++
	}

	return records
}

// discard shifts the first n bytes out of the logical region.
func (r *Reassembler) discard(n int) {
	if n >= r.length {
		r.length = 0
		return
	}
	copy(r.buf, r.buf[n:r.length])
	r.length -= n
}

// Len returns the number of buffered, unconsumed bytes
func (r *Reassembler) Len() int {
	return r.length
}

// Cap returns the buffer capacity
func (r *Reassembler) Cap() int {
	return len(r.buf)
}

// Buffered returns a copy of the unconsumed bytes
func (r *Reassembler) Buffered() []byte {
	out := make([]byte, r.length)
	copy(out, r.buf[:r.length])
	return out
}

// Stats returns the running counters
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

// Reset drops buffered bytes and clears the counters
func (r *Reassembler) Reset() {
	r.length = 0
	r.stats = ReassemblerStats{}
}
