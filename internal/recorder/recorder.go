// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recorder stores telemetry as a CBOR sequence (RFC 8742): one
// header item followed by one cdi.Record per decoded frame.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/fxamacker/cbor/v2"
)

// Magic identifies a cdistat recording
const Magic = "cdistat"

// Version is the current recording format version
const Version = 1

// ErrNotRecording is returned when a stream does not start with a valid header
var ErrNotRecording = errors.New("not a cdistat recording")

// Header opens every recording
type Header struct {
	Magic   string `cbor:"0,keyasint"`
	Version int    `cbor:"1,keyasint"`
	Source  string `cbor:"2,keyasint,omitempty"`
	Started int64  `cbor:"3,keyasint"` // unix ms
}

// StartTime returns when the recording began
func (h Header) StartTime() time.Time {
	return time.UnixMilli(h.Started)
}

// Writer appends telemetry records to a stream. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	buf   *bufio.Writer
	enc   *cbor.Encoder
	c     io.Closer
	count int
}

// NewWriter writes the header to w and returns a Writer for records
func NewWriter(w io.Writer, source string) (*Writer, error) {
	buf := bufio.NewWriter(w)
	rw := &Writer{buf: buf, enc: cbor.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		rw.c = c
	}

	h := Header{Magic: Magic, Version: Version, Source: source, Started: time.Now().UnixMilli()}
	if err := rw.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return rw, nil
}

// Create creates (or truncates) path and returns a Writer for it
func Create(path, source string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	w, err := NewWriter(f, source)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Write appends one record
func (w *Writer) Write(t cdi.Telemetry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(cdi.NewRecord(t)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.count++
	return nil
}

// Count returns how many records have been written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush writes buffered records to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the underlying writer if it is an io.Closer
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.buf.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates over a recording
type Reader struct {
	dec    *cbor.Decoder
	header Header
	c      io.Closer
}

// NewReader reads and checks the header from r
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
	if c, ok := r.(io.Closer); ok {
		rr.c = c
	}

	if err := rr.dec.Decode(&rr.header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotRecording
		}
		return nil, fmt.Errorf("%w: %v", ErrNotRecording, err)
	}
	if rr.header.Magic != Magic {
		return nil, ErrNotRecording
	}
	if rr.header.Version > Version {
		return nil, fmt.Errorf("unsupported recording version %d", rr.header.Version)
	}
	return rr, nil
}

// Open opens a recording file
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Header returns the recording header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the recording
func (r *Reader) Next() (cdi.Telemetry, error) {
	var rec cdi.Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return cdi.Telemetry{}, io.EOF
		}
		return cdi.Telemetry{}, fmt.Errorf("read record: %w", err)
	}
	return rec.Telemetry()
}

// Close closes the underlying reader if it is an io.Closer
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}
