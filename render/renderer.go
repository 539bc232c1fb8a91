// Package render presents one streamed answer in two explicit modes.
//
// While tokens arrive the Renderer is in append mode: each fragment is appended
// to a single text leaf inside a container of fixed minimum height, and nothing
// structural is recomputed. Complete switches to structural mode once: the full
// text goes through markup.Balance and markup.Extract, every section is drawn by
// the template registered for its kind, and the measured height is locked.
package render

import (
	"errors"
	"fmt"
	"strings"

	"chat-relay/markup"
	"chat-relay/types"

	"github.com/charmbracelet/lipgloss"
)

// Mode is the rendering mode of a Renderer
type Mode int

const (
	ModeAppend Mode = iota
	ModeStructural
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	if m == ModeStructural {
		return "structural"
	}
	return "append"
}

var (
	// ErrSequenceGap is returned for a token that is not the next expected one
	ErrSequenceGap = errors.New("token sequence gap")
	// ErrCompleted is returned for tokens applied after Complete
	ErrCompleted = errors.New("renderer already completed")
)

const defaultMinHeight = 3

// Renderer owns the presentation of a single answer. It is not safe for
// concurrent use; each turn gets its own Renderer.
type Renderer struct {
	mode      Mode
	next      int
	leaf      strings.Builder
	minHeight int
	width     int
	templates map[markup.Kind]Template

	sections []markup.Section
	view     string
	height   int
}

// Option configures a Renderer
type Option func(*Renderer)

// WithMinHeight sets the container height reserved from the first paint
func WithMinHeight(lines int) Option {
	return func(r *Renderer) {
		if lines > 0 {
			r.minHeight = lines
		}
	}
}

// WithWidth wraps content at the given number of cells
func WithWidth(cells int) Option {
	return func(r *Renderer) {
		if cells > 0 {
			r.width = cells
		}
	}
}

// WithTemplate overrides the template used for one section kind. A nil
// template keeps the default.
func WithTemplate(kind markup.Kind, t Template) Option {
	return func(r *Renderer) {
		if t != nil {
			r.templates[kind] = t
		}
	}
}

// New creates a Renderer in append mode expecting sequence 1 first
func New(opts ...Option) *Renderer {
	r := &Renderer{
		mode:      ModeAppend,
		next:      1,
		minHeight: defaultMinHeight,
		templates: DefaultTemplates(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply appends one fragment in place. Fragments must arrive in sequence order;
// anything else is rejected without touching the accumulated text.
func (r *Renderer) Apply(tok types.TokenEvent) error {
	if r.mode == ModeStructural {
		return ErrCompleted
	}
	if tok.Sequence != r.next {
		return fmt.Errorf("%w: got %d, want %d", ErrSequenceGap, tok.Sequence, r.next)
	}
	r.leaf.WriteString(tok.Fragment)
	r.next++
	return nil
}

// Mode reports the current rendering mode
func (r *Renderer) Mode() Mode {
	return r.mode
}

// Text returns the raw accumulated answer
func (r *Renderer) Text() string {
	return r.leaf.String()
}

// Applied returns how many fragments have been applied
func (r *Renderer) Applied() int {
	return r.next - 1
}

// Complete switches to structural mode, runs the repair pipeline once and locks
// the final height. Calling it again returns the same sections.
func (r *Renderer) Complete() []markup.Section {
	if r.mode == ModeStructural {
		return r.sections
	}
	r.mode = ModeStructural
	r.sections = markup.Extract(markup.Balance(r.leaf.String()))

	blocks := make([]string, 0, len(r.sections))
	for _, sec := range r.sections {
		t, ok := r.templates[sec.Kind]
		if !ok {
			t = r.templates[markup.KindFreeText]
		}
		if out := t.Render(sec); out != "" {
			blocks = append(blocks, out)
		}
	}
	body := lipgloss.JoinVertical(lipgloss.Left, blocks...)

	r.height = r.minHeight
	if h := lipgloss.Height(r.container(0).Render(body)); h > r.height {
		r.height = h
	}
	r.view = r.container(r.height).Render(body)
	return r.sections
}

// Sections returns the structured sections once completed
func (r *Renderer) Sections() []markup.Section {
	return r.sections
}

// View draws the current state. In append mode this is the raw text inside the
// minimum-height container; in structural mode it is the locked final view.
func (r *Renderer) View() string {
	if r.mode == ModeStructural {
		return r.view
	}
	return r.container(r.minHeight).Render(r.leaf.String())
}

// Height returns the number of lines the current view occupies
func (r *Renderer) Height() int {
	if r.mode == ModeStructural {
		return r.height
	}
	return lipgloss.Height(r.View())
}

func (r *Renderer) container(height int) lipgloss.Style {
	style := lipgloss.NewStyle()
	if height > 0 {
		style = style.Height(height)
	}
	if r.width > 0 {
		style = style.Width(r.width)
	}
	return style
}
