package content

import (
	"context"

	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// StaticProvider returns one fixed fragment, typically a safelist of class
// names that never appear in scanned markup.
type StaticProvider struct {
	base
	content  string
	encoding types.Encoding
}

func NewStaticProvider(id, name, content string, encoding types.Encoding, enabled bool) *StaticProvider {
	if encoding == "" {
		encoding = types.EncodingText
	}
	return &StaticProvider{
		base:     base{id: id, name: name, description: "Inline content", enabled: enabled},
		content:  content,
		encoding: encoding,
	}
}

func (p *StaticProvider) Scan(_ context.Context, _ Cursor) (*Batch, error) {
	return &Batch{
		Contents: []RawFragment{{
			ID:      p.id,
			Title:   p.name,
			Content: []byte(p.content),
			Type:    p.encoding,
		}},
	}, nil
}
