// Package linesource yields JSON-lines from a decompressor, bounded by a
// maximum line length and lenient about invalid UTF-8. Grounded on the
// teacher's gharchive.Reader bufio.Scanner + big-buffer pattern, but using
// bufio.Reader directly rather than bufio.Scanner: Scanner aborts the whole
// stream on an over-cap token, which would make an over-cap line fatal
// rather than a skippable warning as spec.md §4.4 requires
package linesource

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	perr "redarc/internal/platform/errors"
)

// MaxLineBytes is the line-length cap of spec.md §4.4 (16 MiB), versus the
// teacher's 32 MiB gzip-line cap — Reddit archive records are smaller
const MaxLineBytes = 16 * 1024 * 1024

// readerBufferBytes sizes the underlying bufio.Reader
const readerBufferBytes = 512 * 1024

// OverCapFunc is called once per line that exceeds MaxLineBytes, with the
// line's byte length. The line is skipped, not fatal, per spec.md §4.4
type OverCapFunc func(lineBytes int)

// Scanner yields successive JSON-lines from r, trimming CR/LF/CRLF
// terminators and repairing invalid UTF-8 lossily via bytes.ToValidUTF8
type Scanner struct {
	r       *bufio.Reader
	onOver  OverCapFunc
	lineNo  int
	lastErr error
}

// New wraps r. onOverCap may be nil
func New(r io.Reader, onOverCap OverCapFunc) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, readerBufferBytes), onOver: onOverCap}
}

// Next returns the next line's bytes (terminator trimmed, UTF-8 repaired)
// and its 1-based line number. Returns io.EOF when the source is
// exhausted. Lines over MaxLineBytes are consumed and discarded, onOverCap
// is invoked if set, and Next transparently advances to the following line
func (s *Scanner) Next() ([]byte, int, error) {
	if s.lastErr != nil {
		return nil, s.lineNo, s.lastErr
	}
	for {
		line, readErr := s.readLine()
		if line == nil && readErr == nil {
			s.lineNo++ // over-cap line, already reported; still consumes a line number
			continue
		}
		if readErr != nil {
			if readErr != io.EOF {
				s.lastErr = perr.Wrap(readErr, perr.ErrorCodeDecode, "linesource: read failed")
				return nil, s.lineNo, s.lastErr
			}
			if line == nil {
				s.lastErr = io.EOF
				return nil, s.lineNo, io.EOF
			}
			// fall through: final line with no trailing newline
		}
		s.lineNo++
		if !utf8.Valid(line) {
			line = bytes.ToValidUTF8(line, []byte("�"))
		}
		return line, s.lineNo, nil
	}
}

// readLine reads one '\n'-terminated chunk, regardless of length, growing a
// local buffer up to MaxLineBytes. Past the cap, bytes are discarded (not
// buffered) until the terminator is found, and (nil, nil) is returned to
// signal "skipped, try again". Returns (nil, io.EOF) at end of stream with
// nothing pending; returns the final unterminated fragment with io.EOF if
// the stream ends mid-line
func (s *Scanner) readLine() ([]byte, error) {
	var buf []byte
	overCap := false
	total := 0
	for {
		chunk, err := s.r.ReadSlice('\n')
		done := err == nil
		if err != nil && err != bufio.ErrBufferFull {
			// EOF or another read error; chunk holds whatever was read before it
			if len(chunk) == 0 && total == 0 {
				return nil, err
			}
			total += len(chunk)
			if !overCap {
				buf = append(buf, chunk...)
			}
			if overCap || total > MaxLineBytes {
				s.reportOverCap(total) // EOF with no trailing newline: chunk carries no delimiter to discount
				return nil, nil
			}
			return trimNewline(buf), err
		}

		total += len(chunk)
		if overCap {
			if done {
				s.reportOverCap(total - 1) // discount the '\n' delimiter
				return nil, nil
			}
			continue
		}
		lineLen := total
		if done {
			lineLen-- // the '\n' delimiter does not count toward the cap
		}
		if lineLen > MaxLineBytes {
			overCap = true
			buf = nil
			if done {
				s.reportOverCap(lineLen)
				return nil, nil
			}
			continue
		}
		buf = append(buf, chunk...)
		if done {
			return trimNewline(buf), nil
		}
	}
}

func (s *Scanner) reportOverCap(total int) {
	if s.onOver != nil {
		s.onOver(total)
	}
}

func trimNewline(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
