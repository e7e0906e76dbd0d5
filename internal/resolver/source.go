package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/bytedance/sonic"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
	"github.com/orgrosua/yabe-siul/internal/importmap"
)

// Source turns an install manifest into an import map.
type Source interface {
	Name() string
	Resolve(ctx context.Context, installs []Install) (*importmap.Map, error)
}

// Environment tags sent to the generator.
var Environment = []string{"production", "browser", "module"}

// RemoteSource asks a JSPM-compatible generator service for the map.
type RemoteSource struct {
	client   *httpclient.Client
	url      string
	provider string
}

func NewRemoteSource(client *httpclient.Client, generatorURL, defaultProvider string) *RemoteSource {
	return &RemoteSource{client: client, url: generatorURL, provider: defaultProvider}
}

func (s *RemoteSource) Name() string { return "remote" }

func (s *RemoteSource) Resolve(ctx context.Context, installs []Install) (*importmap.Map, error) {
	env, err := sonic.MarshalString(Environment)
	if err != nil {
		return nil, err
	}
	install, err := sonic.MarshalString(installs)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Map *importmap.Map `json:"map"`
	}
	err = s.client.GetJSON(ctx, s.url, map[string]string{
		"env":             env,
		"install":         install,
		"defaultProvider": s.provider,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("generator request: %w", err)
	}

	if resp.Map == nil || len(resp.Map.Imports) == 0 {
		return nil, fmt.Errorf("%w: generator returned no imports", ErrMalformedMap)
	}
	if err := resp.Map.Validate(RequiredSpecifiers(installs)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMap, err)
	}
	return resp.Map, nil
}

// LocalSource builds the map itself: each install is resolved to an exact
// version against the npm registry, one at a time, and mapped onto a CDN
// that serves packages by name@version/subpath.
type LocalSource struct {
	client   *httpclient.Client
	cdn      string
	registry string
}

func NewLocalSource(client *httpclient.Client, cdnURL, registryURL string) *LocalSource {
	return &LocalSource{
		client:   client,
		cdn:      strings.TrimSuffix(cdnURL, "/"),
		registry: strings.TrimSuffix(registryURL, "/"),
	}
}

func (s *LocalSource) Name() string { return "local" }

func (s *LocalSource) Resolve(ctx context.Context, installs []Install) (*importmap.Map, error) {
	m := importmap.New()
	for _, install := range installs {
		if err := s.install(ctx, m, install); err != nil {
			return nil, fmt.Errorf("install %s: %w", install.Target, err)
		}
	}
	return m, nil
}

func (s *LocalSource) install(ctx context.Context, m *importmap.Map, install Install) error {
	name := install.Name()
	version, err := s.resolveVersion(ctx, name, install.Range())
	if err != nil {
		return err
	}

	base := fmt.Sprintf("%s/%s@%s", s.cdn, name, version)
	m.Imports[name] = base
	m.Imports[name+"/"] = base + "/"
	for _, sub := range install.Subpaths {
		rel := strings.TrimPrefix(sub, ".")
		m.Imports[name+rel] = base + rel
	}
	return nil
}

type packument struct {
	DistTags map[string]string   `json:"dist-tags"`
	Versions map[string]struct{} `json:"versions"`
}

// resolveVersion returns rng unchanged when it is already an exact version,
// otherwise consults the registry: dist-tags first, then the highest version
// satisfying rng as a semver range.
func (s *LocalSource) resolveVersion(ctx context.Context, name, rng string) (string, error) {
	if rng != "" {
		if v, err := semver.StrictNewVersion(rng); err == nil {
			return v.String(), nil
		}
	}
	if rng == "" {
		rng = "latest"
	}

	var doc packument
	if err := s.client.GetJSON(ctx, s.registry+"/"+name, nil, &doc); err != nil {
		return "", fmt.Errorf("registry lookup: %w", err)
	}

	if v, ok := doc.DistTags[rng]; ok {
		return v, nil
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return "", fmt.Errorf("unknown dist-tag or range %q: %w", rng, err)
	}

	candidates := make([]*semver.Version, 0, len(doc.Versions))
	for raw := range doc.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		candidates = append(candidates, v)
	}
	sort.Sort(sort.Reverse(semver.Collection(candidates)))

	for _, v := range candidates {
		if constraint.Check(v) {
			return v.Original(), nil
		}
	}
	return "", fmt.Errorf("no version of %s satisfies %q", name, rng)
}
