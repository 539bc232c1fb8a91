package client

import (
	"bufio"
	"io"
	"strings"
)

// Event is one parsed server-sent event
type Event struct {
	Type string
	Data string
	ID   string
}

// Reader parses server-sent events from a stream
type Reader struct {
	scanner *bufio.Scanner

	// current accumulates fields for the event being built
	current *Event
	hasData bool
}

// NewReader returns a Reader over src
func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{scanner: scanner, current: &Event{}}
}

// Next blocks until a complete event (terminated by a blank line) is
// available. It returns nil, nil once the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if r.hasData {
				ev := r.current
				r.reset()
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		r.parseLine(line)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended without a trailing blank line.
	if r.hasData {
		ev := r.current
		r.reset()
		return ev, nil
	}
	return nil, nil
}

// parseLine handles one "field:value" line; a single space after the colon
// is dropped.
func (r *Reader) parseLine(line string) {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	}
}

func (r *Reader) reset() {
	r.current = &Event{}
	r.hasData = false
}
