package content

import (
	"context"

	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// RawFragment is a fragment as a provider returns it. Content is opaque
// bytes, base64 in JSON.
type RawFragment struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Content []byte         `json:"content"`
	Type    types.Encoding `json:"type"`
}

// Metadata carries the continuation token of a batch.
type Metadata struct {
	NextBatch Cursor `json:"next_batch"`
}

// Batch is one provider response.
type Batch struct {
	Metadata Metadata      `json:"metadata"`
	Contents []RawFragment `json:"contents"`
}

// Provider is a pluggable content source scanned batch by batch.
type Provider interface {
	ID() string
	Name() string
	Description() string
	Enabled() bool
	Scan(ctx context.Context, cursor Cursor) (*Batch, error)
}

// Info describes a provider for listings.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Describe returns the listing info for p.
func Describe(p Provider) Info {
	return Info{
		ID:          p.ID(),
		Name:        p.Name(),
		Description: p.Description(),
		Enabled:     p.Enabled(),
	}
}

// base holds the descriptive fields shared by the built-in providers.
type base struct {
	id          string
	name        string
	description string
	enabled     bool
}

func (b base) ID() string          { return b.id }
func (b base) Name() string        { return b.name }
func (b base) Description() string { return b.description }
func (b base) Enabled() bool       { return b.enabled }
