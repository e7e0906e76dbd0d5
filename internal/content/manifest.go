package content

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// Provider types accepted in a manifest.
const (
	ProviderFilesystem = "filesystem"
	ProviderRemote     = "remote"
	ProviderStatic     = "static"
)

// Manifest declares the content providers, one [[provider]] table each.
type Manifest struct {
	Providers []ProviderSpec `toml:"provider"`
}

// ProviderSpec is one manifest entry. Fields apply per type.
type ProviderSpec struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Type        string   `toml:"type"`
	Enabled     *bool    `toml:"enabled"`
	Root        string   `toml:"root"`
	Include     []string `toml:"include"`
	Exclude     []string `toml:"exclude"`
	BatchSize   int      `toml:"batch_size"`
	URL         string   `toml:"url"`
	ProviderID  string   `toml:"provider_id"`
	Content     string   `toml:"content"`
	Encoding    string   `toml:"encoding"`
}

// LoadManifest reads a TOML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a TOML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse provider manifest: %w", err)
	}
	return &m, nil
}

// Build constructs the declared providers. Providers are enabled unless the
// entry says otherwise; filesystem batch sizes default to defaultBatch.
func (m *Manifest) Build(client *httpclient.Client, defaultBatch int) ([]Provider, error) {
	providers := make([]Provider, 0, len(m.Providers))
	for i, spec := range m.Providers {
		if spec.ID == "" {
			return nil, fmt.Errorf("provider #%d: id is required", i+1)
		}
		if spec.Name == "" {
			spec.Name = spec.ID
		}
		enabled := spec.Enabled == nil || *spec.Enabled

		var (
			p   Provider
			err error
		)
		switch spec.Type {
		case ProviderFilesystem, "":
			batch := spec.BatchSize
			if batch <= 0 {
				batch = defaultBatch
			}
			p, err = NewFilesystemProvider(FilesystemOptions{
				ID:          spec.ID,
				Name:        spec.Name,
				Description: spec.Description,
				Enabled:     enabled,
				Root:        spec.Root,
				Include:     spec.Include,
				Exclude:     spec.Exclude,
				BatchSize:   batch,
			})
		case ProviderRemote:
			p, err = NewRemoteProvider(client, RemoteOptions{
				ID:          spec.ID,
				Name:        spec.Name,
				Description: spec.Description,
				Enabled:     enabled,
				URL:         spec.URL,
				ProviderID:  spec.ProviderID,
			})
		case ProviderStatic:
			p = NewStaticProvider(spec.ID, spec.Name, spec.Content, types.Encoding(spec.Encoding), enabled)
		default:
			err = fmt.Errorf("provider %s: unknown type %q", spec.ID, spec.Type)
		}
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
