// Package stream decodes the line-delimited JSON reply stream returned by the
// backend's ask endpoint.
//
// Each line of the body is a JSON object of the form
//
//	{"type": "answer" | "reasoning" | ..., "content": "..."}
//
// Chunks coming off the wire may split a line (or a multi-byte character) at
// any position, so the Decoder keeps the undecoded tail of the previous chunk
// around until the next newline shows up. Lines that do not parse are dropped
// without aborting the stream.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultChunkSize = 4096

type Decoder struct {
	buf       []byte
	received  bool
	records   int
	malformed int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write feeds the next raw chunk and returns the records of every line it completed.
func (d *Decoder) Write(chunk []byte) []Record {
	if len(chunk) == 0 {
		return nil
	}
	d.received = true
	d.buf = append(d.buf, chunk...)

	var ret []Record
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		if rec, ok := d.parseLine(line); ok {
			ret = append(ret, rec)
		}
		d.buf = d.buf[idx+1:]
	}

	// keep the carry-over in a fresh slice so the consumed prefix can be collected
	if len(d.buf) == 0 {
		d.buf = nil
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}

	return ret
}

// Flush parses whatever is left in the carry-over buffer as a final, possibly
// unterminated line. The decoder is empty afterwards.
func (d *Decoder) Flush() []Record {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if rec, ok := d.parseLine(line); ok {
		return []Record{rec}
	}
	return nil
}

// Received reports whether any bytes were ever written to the decoder.
func (d *Decoder) Received() bool {
	return d.received
}

// Malformed returns the number of non-blank lines that were not valid JSON.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// Records returns the number of answer/reasoning records emitted so far.
func (d *Decoder) Records() int {
	return d.records
}

func (d *Decoder) parseLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		d.malformed++
		log.Debug().Err(err).Int("line_length", len(line)).Msg("Skipping malformed stream line")
		return Record{}, false
	}
	if !rec.Known() {
		log.Trace().Str("type", string(rec.Type)).Msg("Ignoring unknown stream record type")
		return Record{}, false
	}

	d.records++
	return rec, true
}

// Decode drives a Decoder over r until EOF, calling fn for every record in
// arrival order. It returns whether any bytes were read at all.
//
// A read error aborts decoding and is returned wrapped; records decoded
// before the error have already been handed to fn. Returning an error from fn
// stops decoding as well.
func Decode(ctx context.Context, r io.Reader, fn func(Record) error) (bool, error) {
	d := NewDecoder()
	chunk := make([]byte, defaultChunkSize)

	emit := func(recs []Record) error {
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return d.Received(), err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if err_ := emit(d.Write(chunk[:n])); err_ != nil {
				return d.Received(), err_
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return d.Received(), errors.Wrap(err, "reading reply stream")
		}
	}

	if err := emit(d.Flush()); err != nil {
		return d.Received(), err
	}

	log.Debug().
		Bool("received", d.Received()).
		Int("records", d.Records()).
		Int("malformed", d.Malformed()).
		Msg("Reply stream finished")

	return d.Received(), nil
}
