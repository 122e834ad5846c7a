// Package tokens estimates how many tokens the context window sends to the
// generation backend.
package tokens

import (
	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

const DefaultEncoding = string(tokenizer.Cl100kBase)

// Counter counts tokens with a tiktoken codec.
type Counter struct {
	codec    tokenizer.Codec
	name     string
	overhead int
}

type Option func(*Counter)

// WithRecordOverhead adds n tokens per record to account for the role and
// separator tokens of chat formats.
func WithRecordOverhead(n int) Option {
	return func(c *Counter) {
		if n >= 0 {
			c.overhead = n
		}
	}
}

// New creates a counter for an encoding name such as cl100k_base. An empty
// name selects DefaultEncoding.
func New(encoding string, options ...Option) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, errors.Wrapf(err, "unknown encoding %q", encoding)
	}
	return newCounter(codec, encoding, options), nil
}

// ForModel creates a counter using the encoding of model, e.g. gpt-4.
func ForModel(model string, options ...Option) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		return nil, errors.Wrapf(err, "unknown model %q", model)
	}
	return newCounter(codec, codec.GetName(), options), nil
}

func newCounter(codec tokenizer.Codec, name string, options []Option) *Counter {
	c := &Counter{codec: codec, name: name}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Counter) Encoding() string {
	return c.name
}

func (c *Counter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "could not encode text")
	}
	return len(ids), nil
}

// CountRecords returns the total for records, each weighted with the record
// overhead.
func (c *Counter) CountRecords(records []conversation.Record) (int, error) {
	total := 0
	for _, r := range records {
		n, err := c.Count(r.Text)
		if err != nil {
			return 0, errors.Wrapf(err, "record %s", r.ID)
		}
		total += n + c.overhead
	}
	return total, nil
}
