package las

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/multierr"

	"github.com/banshee-data/potree-clip/internal/fsutil"
)

// Writer streams point records after a placeholder header and patches the
// point count into the header on Close. Blocks passed to WriteRecords are
// written contiguously even when called from several goroutines.
type Writer struct {
	mu     sync.Mutex
	f      fsutil.File
	header Header
	count  uint64
	closed bool
}

// NewWriter writes the placeholder header for h to f.
func NewWriter(f fsutil.File, h Header) (*Writer, error) {
	h.PointCount = 0
	buf, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write LAS header: %w", err)
	}
	return &Writer{f: f, header: h}, nil
}

// WriteRecords appends a block of encoded records.
func (w *Writer) WriteRecords(block []byte) error {
	if len(block)%RecordLength != 0 {
		return fmt.Errorf("record block of %d bytes is not a multiple of %d", len(block), RecordLength)
	}
	if len(block) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("write to closed LAS writer")
	}
	if _, err := w.f.Write(block); err != nil {
		return fmt.Errorf("write LAS records: %w", err)
	}
	w.count += uint64(len(block) / RecordLength)
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close rewrites the header with the final point count and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.count > math.MaxUint32 {
		err = fmt.Errorf("%d points exceed the LAS 1.2 point count", w.count)
	} else {
		w.header.PointCount = uint32(w.count)
		buf, merr := w.header.MarshalBinary()
		if merr == nil {
			_, merr = w.f.WriteAt(buf, 0)
		}
		if merr != nil {
			err = fmt.Errorf("patch LAS header: %w", merr)
		}
	}
	return multierr.Append(err, w.f.Close())
}
