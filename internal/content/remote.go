package content

import (
	"context"
	"fmt"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
)

// RemoteProvider scans a provider exposed over HTTP. Each batch is a POST of
// {provider_id, metadata: {next_batch}} answered by a Batch.
type RemoteProvider struct {
	base
	client     *httpclient.Client
	url        string
	providerID string
}

// RemoteOptions configures a RemoteProvider. ProviderID is the ID the
// remote side knows the provider by; it defaults to ID.
type RemoteOptions struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	URL         string
	ProviderID  string
}

func NewRemoteProvider(client *httpclient.Client, opts RemoteOptions) (*RemoteProvider, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("remote provider %s: url is required", opts.ID)
	}
	if opts.ProviderID == "" {
		opts.ProviderID = opts.ID
	}
	return &RemoteProvider{
		base:       base{id: opts.ID, name: opts.Name, description: opts.Description, enabled: opts.Enabled},
		client:     client,
		url:        opts.URL,
		providerID: opts.ProviderID,
	}, nil
}

type scanRequest struct {
	ProviderID string   `json:"provider_id"`
	Metadata   Metadata `json:"metadata"`
}

func (p *RemoteProvider) Scan(ctx context.Context, cursor Cursor) (*Batch, error) {
	var batch Batch
	err := p.client.PostJSON(ctx, p.url, scanRequest{
		ProviderID: p.providerID,
		Metadata:   Metadata{NextBatch: cursor},
	}, &batch)
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return &batch, nil
}
