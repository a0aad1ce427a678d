// Package atomicfile publishes files via write-to-temp-then-rename so that
// observers outside the process only ever see the file fully committed or
// absent (spec.md Invariant 4), grounded on the teacher's
// writeResponseToCache/saveMeta temp-then-rename pattern
package atomicfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	perr "redarc/internal/platform/errors"
)

// Write calls fn with a buffered writer over a temp file colocated with
// path, flushes and closes it, then publishes it to path via os.Rename. If
// fn returns an error, or the flush/close/rename fails, the temp file is
// removed and path is left untouched. On cross-volume rename failure
// (EXDEV), falls back to stream-copy-then-delete
func Write(path string, fn func(w io.Writer) error) error {
	w, err := OpenWriter(path)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		_ = w.Abort()
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: write %q", w.tmp)
	}
	return w.Close()
}

// Writer streams bytes into a temp file colocated with a target path,
// exactly the teacher's writeResponseToCache shape generalized to many
// Write calls instead of one io.Copy: the caller may call Write any number
// of times, and either Close (flush, close, publish) or Abort (discard the
// temp file, path untouched) exactly once
type Writer struct {
	path string
	tmp  string
	f    *os.File
	bw   *bufio.Writer
	done bool
}

// OpenWriter begins an atomic publish of path: bytes go to a temp file
// until Close or Abort
func OpenWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: mkdir %q", dir)
	}
	tmp := filepath.Join(dir, filepath.Base(path)+tempSuffix())
	f, err := os.Create(tmp)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: create temp %q", tmp)
	}
	return &Writer{path: path, tmp: tmp, f: f, bw: bufio.NewWriterSize(f, 256*1024)}, nil
}

// Write implements io.Writer over the temp file's buffer
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	if err != nil {
		return n, perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: write %q", w.tmp)
	}
	return n, nil
}

// Close flushes and closes the temp file, then publishes it to the target
// path. Calling Close more than once, or after Abort, is an error
func (w *Writer) Close() error {
	if w.done {
		return perr.Configurationf("atomicfile: writer for %q already closed", w.path)
	}
	w.done = true

	werr := w.bw.Flush()
	cerr := w.f.Close()
	if werr != nil {
		_ = os.Remove(w.tmp)
		return perr.Wrapf(werr, perr.ErrorCodeIOPermanent, "atomicfile: flush %q", w.tmp)
	}
	if cerr != nil {
		_ = os.Remove(w.tmp)
		return perr.Wrapf(cerr, perr.ErrorCodeIOPermanent, "atomicfile: close %q", w.tmp)
	}
	if err := publish(w.tmp, w.path); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	return nil
}

// Abort discards the temp file; the target path is left untouched
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.tmp)
}

func tempSuffix() string {
	return ".tmp-" + strconv.Itoa(os.Getpid()) + "-" + uuid.New().String()
}

// publish renames tmp to path, falling back to stream-copy-then-delete when
// the two paths are on different volumes (syscall.EXDEV)
func publish(tmp, path string) error {
	err := os.Rename(tmp, path)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: rename %q -> %q", tmp, path)
	}
	return copyThenDelete(tmp, path)
}

func isCrossDevice(err error) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	var errno syscall.Errno
	if le, ok := err.(*os.LinkError); ok {
		if e, ok := le.Err.(syscall.Errno); ok {
			errno = e
		}
	}
	return errno == syscall.EXDEV
}

func copyThenDelete(tmp, path string) error {
	src, err := os.Open(tmp)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: reopen %q", tmp)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: create %q", path)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: cross-device copy to %q", path)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "atomicfile: close %q", path)
	}
	_ = os.Remove(tmp)
	return nil
}
