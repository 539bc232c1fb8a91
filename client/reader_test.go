package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderParsesEvents(t *testing.T) {
	src := ": comment\n\n" +
		"event: progressive-token\ndata: {\"content\":\"a\"}\n\n" +
		"event: end\ndata: \n\n" +
		"id: 7\ndata: line1\ndata: line2"

	r := NewReader(strings.NewReader(src))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, &Event{Type: "progressive-token", Data: `{"content":"a"}`}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, &Event{Type: "end"}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, &Event{ID: "7", Data: "line1\nline2"}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Nil(t, ev)
}
