// Package render turns a message text into the instructions a front end
// needs to display it: plain regions with their bracket emphasis runs and
// markup regions as HTML fragments.
package render

import (
	"bytes"

	"github.com/go-go-golems/tavern/pkg/segment"
	"github.com/go-go-golems/tavern/pkg/styling"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// Instruction is one contiguous region of the input.
type Instruction struct {
	Kind segment.Kind `json:"kind"`
	// Text is the region as it appears in the input.
	Text string `json:"text"`
	// Runs is set for plain text regions.
	Runs []styling.Run `json:"runs,omitempty"`
	// HTML is set for markup regions.
	HTML string `json:"html,omitempty"`
}

type Pipeline struct {
	styler    *styling.Styler
	segmenter *segment.Segmenter
	markdown  goldmark.Markdown
}

type Option func(*Pipeline)

func WithStyler(s *styling.Styler) Option {
	return func(p *Pipeline) {
		p.styler = s
	}
}

func WithSegmenter(s *segment.Segmenter) Option {
	return func(p *Pipeline) {
		p.segmenter = s
	}
}

// WithMarkdown replaces the goldmark instance used for markup regions.
func WithMarkdown(md goldmark.Markdown) Option {
	return func(p *Pipeline) {
		p.markdown = md
	}
}

// New creates a pipeline. Without options it uses the default bracket pairs,
// the default tag name pattern and a goldmark renderer that keeps raw HTML.
func New(options ...Option) *Pipeline {
	p := &Pipeline{}
	for _, o := range options {
		o(p)
	}
	if p.styler == nil {
		p.styler = styling.MustNew()
	}
	if p.segmenter == nil {
		p.segmenter = segment.MustNew()
	}
	if p.markdown == nil {
		p.markdown = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))
	}
	return p
}

// Prepare splits text into segments and resolves each of them. Joining the
// Text of the returned instructions gives back text.
func (p *Pipeline) Prepare(text string) ([]Instruction, error) {
	segments := p.segmenter.Split(text)
	ret := make([]Instruction, 0, len(segments))
	for _, s := range segments {
		inst := Instruction{Kind: s.Kind, Text: s.Text}
		if s.IsMarkup() {
			var buf bytes.Buffer
			if err := p.markdown.Convert([]byte(s.Text), &buf); err != nil {
				return nil, errors.Wrap(err, "could not render markup block")
			}
			inst.HTML = buf.String()
		} else {
			inst.Runs = p.styler.Runs(s.Text)
		}
		ret = append(ret, inst)
	}
	return ret, nil
}

// Plain reports whether the instructions contain no markup.
func Plain(instructions []Instruction) bool {
	for _, inst := range instructions {
		if inst.Kind == segment.KindMarkup {
			return false
		}
	}
	return true
}
