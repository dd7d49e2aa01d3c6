package op

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 16 << 20

// Decoder reads newline-delimited operations.
//
// A malformed line yields a *SerializationError carrying its line number and
// the decoder stays usable: the next call to Next reads the following line.
type Decoder struct {
	r    *bufio.Reader
	line int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next operation. It returns io.EOF when the stream is
// exhausted. Blank lines are skipped.
func (d *Decoder) Next() (Operation, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Operation{}, err
		}
		d.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		o, decErr := Unmarshal(line)
		if decErr != nil {
			var se *SerializationError
			if errors.As(decErr, &se) {
				se.Line = d.line
			}
			return Operation{}, decErr
		}
		return o, nil
	}
}

// Line returns the number of lines consumed so far.
func (d *Decoder) Line() int {
	return d.line
}

func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > maxLineBytes {
				tooLong = true
				buf = nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong && (err == nil || errors.Is(err, io.EOF)) {
			// The oversized line is consumed so the stream resumes after it.
			d.line++
			return nil, &SerializationError{Line: d.line, Message: "line exceeds size limit"}
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return buf, nil
		default:
			return nil, err
		}
	}
}

// ReadAll decodes every operation in r. It stops at the first error.
func ReadAll(r io.Reader) ([]Operation, error) {
	dec := NewDecoder(r)
	var ops []Operation
	for {
		o, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		ops = append(ops, o)
	}
}

// Encoder writes newline-delimited operations in canonical form.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes o followed by a newline.
func (e *Encoder) Encode(o Operation) error {
	data, err := o.MarshalJSON()
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}
