// Package versions lists the compiler versions the pipeline can build with.
package versions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
)

// DefaultConstraint is the supported compiler major version range.
const DefaultConstraint = ">=3.0.0, <4.0.0"

var ErrNoVersions = errors.New("versions: no supported compiler version available")

// Registry fetches published versions from a jsDelivr-style package
// metadata endpoint.
type Registry struct {
	client     *httpclient.Client
	url        string
	constraint *semver.Constraints
	logger     *zap.Logger
}

func New(client *httpclient.Client, url, constraint string, logger *zap.Logger) (*Registry, error) {
	if constraint == "" {
		constraint = DefaultConstraint
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("versions: parse constraint %q: %w", constraint, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{client: client, url: url, constraint: c, logger: logger.Named("versions")}, nil
}

type packageMetadata struct {
	Tags     map[string]string `json:"tags"`
	Versions []string          `json:"versions"`
}

// Versions returns the supported stable versions, newest first.
func (r *Registry) Versions(ctx context.Context) ([]string, error) {
	var meta packageMetadata
	if err := r.client.GetJSON(ctx, r.url, nil, &meta); err != nil {
		return nil, fmt.Errorf("fetch compiler versions: %w", err)
	}

	list := Filter(meta.Versions, r.constraint)
	if len(list) == 0 {
		return nil, ErrNoVersions
	}

	r.logger.Debug("compiler versions fetched",
		zap.Int("published", len(meta.Versions)),
		zap.Int("supported", len(list)),
		zap.String("latest", list[0]))
	return list, nil
}

// Filter keeps the stable versions satisfying c, sorted newest first.
// Unparseable entries are dropped.
func Filter(raw []string, c *semver.Constraints) []string {
	parsed := make([]*semver.Version, 0, len(raw))
	for _, s := range raw {
		v, err := semver.NewVersion(s)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if c != nil && !c.Check(v) {
			continue
		}
		parsed = append(parsed, v)
	}
	sort.Sort(sort.Reverse(semver.Collection(parsed)))

	out := make([]string, 0, len(parsed))
	for _, v := range parsed {
		out = append(out, v.Original())
	}
	return out
}
