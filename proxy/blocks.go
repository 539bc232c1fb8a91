package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"chat-relay/types"
)

// blockSplitter cuts the raw upstream byte stream into block payloads.
//
// A block starts with a line beginning with the marker and carries one or more
// data: lines. It is complete at the first blank line, at the next marker, or
// when the stream ends. Bytes after the last newline stay buffered until the
// next write.
type blockSplitter struct {
	marker  string
	pending []byte
	data    []string
	inBlock bool
}

func newBlockSplitter(marker string) *blockSplitter {
	return &blockSplitter{marker: marker}
}

// Write consumes a chunk and returns the payloads of every block it completed
func (s *blockSplitter) Write(p []byte) []string {
	s.pending = append(s.pending, p...)

	var out []string
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(s.pending[:i]), "\r")
		s.pending = s.pending[i+1:]
		out = s.line(line, out)
	}
	return out
}

// Flush completes whatever is buffered once the stream has ended
func (s *blockSplitter) Flush() []string {
	var out []string
	if len(s.pending) > 0 {
		out = s.line(strings.TrimSuffix(string(s.pending), "\r"), out)
		s.pending = nil
	}
	return s.closeBlock(out)
}

func (s *blockSplitter) line(line string, out []string) []string {
	if strings.HasPrefix(line, s.marker) {
		out = s.closeBlock(out)
		s.inBlock = true
		line = strings.TrimSpace(line[len(s.marker):])
		if line == "" {
			return out
		}
	}
	if !s.inBlock {
		return out
	}

	switch {
	case line == "":
		if len(s.data) > 0 {
			out = s.closeBlock(out)
			s.inBlock = false
		}
	case strings.HasPrefix(line, "data:"):
		s.data = append(s.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	return out
}

func (s *blockSplitter) closeBlock(out []string) []string {
	if len(s.data) > 0 {
		out = append(out, strings.Join(s.data, "\n"))
		s.data = nil
	}
	return out
}

var errNoEvent = errors.New("envelope has no event tag")

// decodeEnvelope parses a block payload. A payload with a JSON syntax error is
// run through jsonrepair once; repaired reports whether that was needed.
func decodeEnvelope(payload string) (env types.UpstreamEnvelope, repaired bool, err error) {
	err = json.Unmarshal([]byte(payload), &env)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		fixed, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return env, false, fmt.Errorf("repairing envelope: %w", repairErr)
		}
		env = types.UpstreamEnvelope{}
		err = json.Unmarshal([]byte(fixed), &env)
		repaired = true
	}
	if err != nil {
		return env, repaired, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return env, repaired, errNoEvent
	}
	return env, repaired, nil
}
