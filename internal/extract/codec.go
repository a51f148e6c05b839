package extract

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary layout of an encoded Result: a version byte followed by fields in
// declaration order. Strings are uvarint length-prefixed, integers are
// zig-zag varints. Lists are prefixed with their length plus one, zero
// meaning nil, so an empty list and a nil one round-trip distinctly.
// Images are never encoded.
const codecVersion = 2

var errShortBuffer = errors.New("result codec: truncated input")

func (r Result) MarshalBinary() ([]byte, error) {
	w := &wireWriter{buf: make([]byte, 0, len(r.Content)+256)}
	w.byte(codecVersion)
	w.bool(r.Success)
	w.str(r.Content)
	w.str(r.Method)
	w.str(r.FileType)
	w.str(r.MIMEType)
	w.int(r.WordCount)
	w.int(r.CharCount)

	w.length(r.Pages == nil, len(r.Pages))
	for _, p := range r.Pages {
		w.int(p.PageNumber)
		w.str(p.Text)
		w.str(p.Method)
		w.int(p.WordCount)
	}

	w.length(r.Tables == nil, len(r.Tables))
	for _, t := range r.Tables {
		w.str(t.Name)
		w.int(t.PageNumber)
		w.str(t.Markdown)
		w.length(t.Cells == nil, len(t.Cells))
		for _, row := range t.Cells {
			w.strs(row)
		}
	}

	w.strs(r.DetectedLanguages)

	w.length(r.Chunks == nil, len(r.Chunks))
	for _, c := range r.Chunks {
		w.str(c.Content)
		w.int(c.Index)
		w.int(c.Total)
		w.int(c.Start)
		w.int(c.End)
	}

	w.uvarint(uint64(r.Metadata.Len()))
	for _, k := range r.Metadata.keys {
		w.str(k)
		w.str(r.Metadata.vals[k])
	}

	w.bool(r.Error != nil)
	if r.Error != nil {
		w.str(r.Error.Type)
		w.str(r.Error.Message)
	}
	return w.buf, nil
}

func (r *Result) UnmarshalBinary(data []byte) error {
	rd := &wireReader{buf: data}
	if v := rd.byte(); rd.err == nil && v != codecVersion {
		return fmt.Errorf("result codec: unsupported version %d", v)
	}
	var out Result
	out.Success = rd.bool()
	out.Content = rd.str()
	out.Method = rd.str()
	out.FileType = rd.str()
	out.MIMEType = rd.str()
	out.WordCount = rd.int()
	out.CharCount = rd.int()

	if n, ok := rd.length(); ok {
		out.Pages = make([]PageResult, n)
		for i := range out.Pages {
			out.Pages[i] = PageResult{PageNumber: rd.int(), Text: rd.str(), Method: rd.str(), WordCount: rd.int()}
		}
	}

	if n, ok := rd.length(); ok {
		out.Tables = make([]Table, n)
		for i := range out.Tables {
			t := Table{Name: rd.str(), PageNumber: rd.int(), Markdown: rd.str()}
			if rows, ok := rd.length(); ok {
				t.Cells = make([][]string, rows)
				for j := range t.Cells {
					t.Cells[j] = rd.strs()
				}
			}
			out.Tables[i] = t
		}
	}

	out.DetectedLanguages = rd.strs()

	if n, ok := rd.length(); ok {
		out.Chunks = make([]Chunk, n)
		for i := range out.Chunks {
			out.Chunks[i] = Chunk{Content: rd.str(), Index: rd.int(), Total: rd.int(), Start: rd.int(), End: rd.int()}
		}
	}

	for n := rd.count(); n > 0 && rd.err == nil; n-- {
		k := rd.str()
		out.Metadata.Set(k, rd.str())
	}

	if rd.bool() {
		out.Error = &ErrorInfo{Type: rd.str(), Message: rd.str()}
	}

	if rd.err != nil {
		return rd.err
	}
	if len(rd.buf) != 0 {
		return fmt.Errorf("result codec: %d trailing bytes", len(rd.buf))
	}
	*r = out
	return nil
}

type wireWriter struct {
	buf []byte
}

func (w *wireWriter) byte(b byte) { w.buf = append(w.buf, b) }

func (w *wireWriter) bool(b bool) {
	if b {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *wireWriter) uvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *wireWriter) int(v int) { w.buf = binary.AppendVarint(w.buf, int64(v)) }

func (w *wireWriter) str(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *wireWriter) length(isNil bool, n int) {
	if isNil {
		w.uvarint(0)
		return
	}
	w.uvarint(uint64(n) + 1)
}

func (w *wireWriter) strs(ss []string) {
	w.length(ss == nil, len(ss))
	for _, s := range ss {
		w.str(s)
	}
}

// wireReader records the first error and returns zero values afterwards.
type wireReader struct {
	buf []byte
	err error
}

func (r *wireReader) byte() byte {
	if r.err != nil || len(r.buf) < 1 {
		r.fail()
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *wireReader) bool() bool { return r.byte() == 1 }

func (r *wireReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *wireReader) int() int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

// count reads a list length, rejecting values the remaining input cannot hold.
func (r *wireReader) count() int {
	n := r.uvarint()
	if n > uint64(len(r.buf)) {
		r.fail()
		return 0
	}
	return int(n)
}

func (r *wireReader) str() string {
	n := r.count()
	if r.err != nil {
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

// length reads a list prefix written by wireWriter.length; ok is false
// for a nil list.
func (r *wireReader) length() (n int, ok bool) {
	v := r.uvarint()
	if v == 0 || r.err != nil {
		return 0, false
	}
	if v-1 > uint64(len(r.buf)) {
		r.fail()
		return 0, false
	}
	return int(v - 1), true
}

func (r *wireReader) strs() []string {
	n, ok := r.length()
	if !ok {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.str()
	}
	return out
}

func (r *wireReader) fail() {
	if r.err == nil {
		r.err = errShortBuffer
	}
}
