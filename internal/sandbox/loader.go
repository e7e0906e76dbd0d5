package sandbox

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
)

// ModuleLoader fetches the source of a resolved module URL.
type ModuleLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

// HTTPLoader fetches modules over HTTP. ES module and CommonJS bodies are
// both accepted; require() rewrites the former before evaluation.
type HTTPLoader struct {
	client *httpclient.Client
}

func NewHTTPLoader(client *httpclient.Client) *HTTPLoader {
	return &HTTPLoader{client: client}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (string, error) {
	return l.client.GetText(ctx, url)
}

// MapLoader serves module sources from memory, keyed by URL.
type MapLoader map[string]string

func (m MapLoader) Load(_ context.Context, url string) (string, error) {
	source, ok := m[url]
	if !ok {
		return "", fmt.Errorf("module %s not found", url)
	}
	return source, nil
}

// CachingLoader memoises another loader so recreated sandboxes do not refetch
// modules. Concurrent loads of one URL share a single fetch.
type CachingLoader struct {
	next  ModuleLoader
	group singleflight.Group

	mu      sync.RWMutex
	sources map[string]string
}

func NewCachingLoader(next ModuleLoader) *CachingLoader {
	return &CachingLoader{next: next, sources: make(map[string]string)}
}

func (c *CachingLoader) Load(ctx context.Context, url string) (string, error) {
	c.mu.RLock()
	source, ok := c.sources[url]
	c.mu.RUnlock()
	if ok {
		return source, nil
	}

	// The shared fetch must not inherit one caller's cancellation; each caller
	// stops waiting on its own context instead.
	fetch := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (interface{}, error) {
		source, err := c.next.Load(fetch, url)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.sources[url] = source
		c.mu.Unlock()
		return source, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of cached modules.
func (c *CachingLoader) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}
