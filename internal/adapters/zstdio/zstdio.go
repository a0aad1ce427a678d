// Package zstdio wraps klauspost/compress/zstd for the multi-frame
// streaming decode/encode contract of spec.md §4.3, plus an integrity
// probe. Grounded on the teacher's gharchive.Reader streaming shape
// (io.ReadCloser wrapping a compressed stream, bounded buffers) generalized
// from gzip to zstd
package zstdio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	perr "redarc/internal/platform/errors"
)

// DefaultWindowLog bounds decoder memory at 128 MiB (1<<27), per spec.md §4.3
const DefaultWindowLog = 27

// DefaultEncoderLevel is the zstd compression level used for re-exports, per spec.md §4.3
const DefaultEncoderLevel = 10

// Reader streams decompressed bytes from a (possibly multi-frame) zstd
// stream. The underlying decoder already chains concatenated frames; Reader
// only needs to surface a distinguishable mid-frame EOF
type Reader struct {
	rc  io.ReadCloser
	dec *zstd.Decoder
}

// NewReader wraps rc, bounding decoder memory at 1<<windowLog bytes.
// windowLog <= 0 uses DefaultWindowLog. Ownership of rc passes to Reader
func NewReader(rc io.ReadCloser, windowLog int) (*Reader, error) {
	if windowLog <= 0 {
		windowLog = DefaultWindowLog
	}
	dec, err := zstd.NewReader(rc, zstd.WithDecoderMaxWindow(1<<uint(windowLog)))
	if err != nil {
		_ = rc.Close()
		return nil, perr.Wrap(err, perr.ErrorCodeDecode, "zstdio: opening frame")
	}
	return &Reader{rc: rc, dec: dec}, nil
}

// Read implements io.Reader, wrapping every error other than io.EOF
// (including the decoder's unexpected-EOF on a truncated frame) as a decode
// error
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.dec.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, perr.Wrap(err, perr.ErrorCodeDecode, "zstdio: frame read")
	}
	return n, err
}

// Close releases the decoder and the underlying stream
func (r *Reader) Close() error {
	r.dec.Close()
	return r.rc.Close()
}

// Writer streams compressed bytes into a single zstd frame with
// content-checksums enabled, per spec.md §4.3
type Writer struct {
	wc  io.WriteCloser
	enc *zstd.Encoder
}

// NewWriter wraps wc at the given compression level (<=0 uses DefaultEncoderLevel).
// Ownership of wc passes to Writer
func NewWriter(wc io.WriteCloser, level int) (*Writer, error) {
	if level <= 0 {
		level = DefaultEncoderLevel
	}
	enc, err := zstd.NewWriter(wc,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		_ = wc.Close()
		return nil, perr.Wrap(err, perr.ErrorCodeIOPermanent, "zstdio: opening encoder")
	}
	return &Writer{wc: wc, enc: enc}, nil
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.enc.Write(p)
	if err != nil {
		return n, perr.Wrap(err, perr.ErrorCodeIOPermanent, "zstdio: frame write")
	}
	return n, nil
}

// Close flushes and closes the zstd frame, then the underlying writer
func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		_ = w.wc.Close()
		return perr.Wrap(err, perr.ErrorCodeIOPermanent, "zstdio: closing encoder")
	}
	return w.wc.Close()
}

// ProbeMode selects the depth of an integrity check
type ProbeMode int

const (
	// Quick reads up to SampleBytes compressed bytes and discards the decode
	Quick ProbeMode = iota
	// Full streams the entire file and verifies the terminal checksum
	Full
)

// FailureCategory classifies why a probed file is suspect
type FailureCategory int

const (
	// OK means the probe found no problem
	OK FailureCategory = iota
	// HeaderInvalid means the zstd frame header could not be parsed
	HeaderInvalid
	// MidStreamCorruption means decoding failed partway through the stream
	MidStreamCorruption
	// Truncated means the stream ended before a complete frame was read
	Truncated
	// ChecksumMismatch means the decoder rejected the content checksum
	ChecksumMismatch
	// Unreadable means the file could not be opened or read at the OS level
	Unreadable
)

// String renders the failure category name used in probe reports
func (c FailureCategory) String() string {
	switch c {
	case OK:
		return "ok"
	case HeaderInvalid:
		return "header-invalid"
	case MidStreamCorruption:
		return "mid-stream-corruption"
	case Truncated:
		return "truncated"
	case ChecksumMismatch:
		return "checksum-mismatch"
	case Unreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// ProbeResult is the outcome of probing one file
type ProbeResult struct {
	Path     string
	Category FailureCategory
	Err      error
}

// Suspect reports whether the probe found a problem
func (r ProbeResult) Suspect() bool { return r.Category != OK }

// SampleBytes is the default compressed-byte cap for Quick mode
const SampleBytes = 64 * 1024

// Probe checks path for zstd stream integrity. Quick mode only reads
// SampleBytes compressed bytes and requires the sample's first read from the
// decoder to return no error other than io.EOF or io.ErrUnexpectedEOF; the
// number of decoded bytes is not checked, so a sample that decodes to no
// output is not flagged. Full mode decodes the entire file and surfaces
// checksum failures
func Probe(path string, mode ProbeMode) ProbeResult {
	f, err := os.Open(path)
	if err != nil {
		return ProbeResult{Path: path, Category: Unreadable, Err: err}
	}
	defer func() { _ = f.Close() }()

	if mode == Quick {
		return probeQuick(path, f)
	}
	return probeFull(path, f)
}

func probeQuick(path string, f *os.File) ProbeResult {
	buf := make([]byte, SampleBytes)
	n, rerr := io.ReadFull(f, buf)
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return ProbeResult{Path: path, Category: Unreadable, Err: rerr}
	}

	dec, err := zstd.NewReader(bytes.NewReader(buf[:n]), zstd.WithDecoderMaxWindow(1<<DefaultWindowLog))
	if err != nil {
		return ProbeResult{Path: path, Category: HeaderInvalid, Err: err}
	}
	defer dec.Close()

	out := make([]byte, 4096)
	_, derr := dec.Read(out)
	if derr != nil && !errors.Is(derr, io.EOF) && !errors.Is(derr, io.ErrUnexpectedEOF) {
		return ProbeResult{Path: path, Category: classify(derr), Err: derr}
	}
	return ProbeResult{Path: path}
}

func probeFull(path string, f *os.File) ProbeResult {
	dec, err := zstd.NewReader(f, zstd.WithDecoderMaxWindow(1<<DefaultWindowLog))
	if err != nil {
		return ProbeResult{Path: path, Category: HeaderInvalid, Err: err}
	}
	defer dec.Close()

	_, cerr := io.Copy(io.Discard, dec)
	if cerr != nil {
		return ProbeResult{Path: path, Category: classify(cerr), Err: cerr}
	}
	return ProbeResult{Path: path}
}

func classify(err error) FailureCategory {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return Truncated
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "checksum"):
		return ChecksumMismatch
	case strings.Contains(s, "unexpected eof") || strings.Contains(s, "truncated"):
		return Truncated
	case strings.Contains(s, "magic") || strings.Contains(s, "header"):
		return HeaderInvalid
	default:
		return MidStreamCorruption
	}
}
