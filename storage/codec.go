package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// rowVersion prefixes every encoded row.
const rowVersion byte = 1

// rowWriter appends mus-encoded fields to a growing buffer.
type rowWriter struct {
	buf []byte
}

func newRowWriter(sizeHint int) *rowWriter {
	w := &rowWriter{buf: make([]byte, 1, sizeHint+1)}
	w.buf[0] = rowVersion
	return w
}

func (w *rowWriter) grow(n int) []byte {
	l := len(w.buf)
	if cap(w.buf)-l < n {
		nb := make([]byte, l, 2*cap(w.buf)+n)
		copy(nb, w.buf)
		w.buf = nb
	}
	w.buf = w.buf[:l+n]
	return w.buf[l:]
}

func (w *rowWriter) string(v string) {
	ord.String.Marshal(v, w.grow(ord.String.Size(v)))
}

func (w *rowWriter) int64(v int64) {
	varint.Int64.Marshal(v, w.grow(varint.Int64.Size(v)))
}

func (w *rowWriter) int(v int) {
	w.int64(int64(v))
}

func (w *rowWriter) uint64(v uint64) {
	varint.Uint64.Marshal(v, w.grow(varint.Uint64.Size(v)))
}

func (w *rowWriter) bool(v bool) {
	ord.Bool.Marshal(v, w.grow(ord.Bool.Size(v)))
}

func (w *rowWriter) float64(v float64) {
	w.uint64(math.Float64bits(v))
}

// time stores microseconds since the epoch; the zero time is stored as 0.
func (w *rowWriter) time(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.UnixMicro())
}

func (w *rowWriter) strings(v []string) {
	w.int(len(v))
	for _, s := range v {
		w.string(s)
	}
}

func (w *rowWriter) stringMap(m map[string]string) {
	w.int(len(m))
	for _, k := range sortedKeys(m) {
		w.string(k)
		w.string(m[k])
	}
}

func (w *rowWriter) bytes() []byte {
	return w.buf
}

// rowReader decodes fields written by rowWriter. The first error sticks and
// every later read returns a zero value.
type rowReader struct {
	bs  []byte
	err error
}

func newRowReader(data []byte) *rowReader {
	r := &rowReader{}
	if len(data) == 0 {
		r.err = ErrTruncatedData
		return r
	}
	if data[0] != rowVersion {
		r.err = fmt.Errorf("%w: %d", ErrUnknownVersion, data[0])
		return r
	}
	r.bs = data[1:]
	return r
}

func (r *rowReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *rowReader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return ""
	}
	r.bs = r.bs[n:]
	return v
}

func (r *rowReader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return 0
	}
	r.bs = r.bs[n:]
	return v
}

func (r *rowReader) int() int {
	return int(r.int64())
}

func (r *rowReader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return 0
	}
	r.bs = r.bs[n:]
	return v
}

func (r *rowReader) bool() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return false
	}
	r.bs = r.bs[n:]
	return v
}

func (r *rowReader) float64() float64 {
	return math.Float64frombits(r.uint64())
}

func (r *rowReader) time() time.Time {
	us := r.int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// count reads a collection length and rejects values the remaining input
// cannot possibly hold.
func (r *rowReader) count() int {
	n := r.int()
	if r.err == nil && (n < 0 || n > len(r.bs)) {
		r.fail(fmt.Errorf("%w: collection length %d", ErrTruncatedData, n))
		return 0
	}
	return n
}

func (r *rowReader) strings() []string {
	n := r.count()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.string())
	}
	return out
}

func (r *rowReader) stringMap() map[string]string {
	n := r.count()
	if n == 0 {
		return nil
	}
	out := make(map[string]string, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.string()
		out[k] = r.string()
	}
	return out
}

func (r *rowReader) done() error {
	if r.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, r.err)
	}
	return nil
}
