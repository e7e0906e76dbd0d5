package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"

	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// DefaultInclude matches the template and script files class names usually
// live in.
var DefaultInclude = []string{"**/*.{html,htm,php,twig,js,jsx,ts,tsx,vue,svelte,json}"}

// DefaultExclude skips dependency and VCS directories.
var DefaultExclude = []string{"**/node_modules/**", "**/vendor/**", "**/.git/**"}

// FilesystemOptions configures a FilesystemProvider.
type FilesystemOptions struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	Root        string
	Include     []string
	Exclude     []string
	BatchSize   int
}

// maxListings bounds the directory listings kept for scans in progress.
const maxListings = 8

// FilesystemProvider serves files under a root, in path order, BatchSize
// files per batch. The tree is walked once per scan: the first batch takes a
// listing and the cursor "<listing>:<offset>" pages through it.
type FilesystemProvider struct {
	base
	root      string
	include   []string
	exclude   []string
	batchSize int

	mu       sync.Mutex
	next     uint64
	listings map[uint64][]string
}

func NewFilesystemProvider(opts FilesystemOptions) (*FilesystemProvider, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("filesystem provider %s: root is required", opts.ID)
	}
	if len(opts.Include) == 0 {
		opts.Include = DefaultInclude
	}
	if opts.Exclude == nil {
		opts.Exclude = DefaultExclude
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	for _, pattern := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("filesystem provider %s: invalid pattern %q", opts.ID, pattern)
		}
	}

	return &FilesystemProvider{
		base:      base{id: opts.ID, name: opts.Name, description: opts.Description, enabled: opts.Enabled},
		root:      opts.Root,
		include:   opts.Include,
		exclude:   opts.Exclude,
		batchSize: opts.BatchSize,
		listings:  make(map[uint64][]string),
	}, nil
}

func (p *FilesystemProvider) Scan(ctx context.Context, cursor Cursor) (*Batch, error) {
	listing, offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	files, ok := p.listing(listing)
	if !ok {
		if files, err = p.files(ctx); err != nil {
			return nil, err
		}
		listing = p.keep(files)
	}

	if offset > len(files) {
		offset = len(files)
	}
	end := offset + p.batchSize
	if end > len(files) {
		end = len(files)
	}

	batch := &Batch{}
	for _, rel := range files[offset:end] {
		fragment, ok, err := p.read(rel)
		if err != nil {
			p.forget(listing)
			return nil, err
		}
		if ok {
			batch.Contents = append(batch.Contents, fragment)
		}
	}
	if end < len(files) {
		batch.Metadata.NextBatch = Cursor(fmt.Sprintf("%d:%d", listing, end))
	} else {
		p.forget(listing)
	}
	return batch, nil
}

func parseCursor(cursor Cursor) (listing uint64, offset int, err error) {
	if cursor.Done() {
		return 0, 0, nil
	}
	head, tail, ok := strings.Cut(string(cursor), ":")
	if ok {
		listing, err = strconv.ParseUint(head, 10, 64)
	}
	if ok && err == nil {
		offset, err = strconv.Atoi(tail)
	}
	if !ok || err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return listing, offset, nil
}

func (p *FilesystemProvider) listing(id uint64) ([]string, bool) {
	if id == 0 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	files, ok := p.listings[id]
	return files, ok
}

// keep stores files under a fresh listing id, dropping the oldest listing
// once maxListings are held.
func (p *FilesystemProvider) keep(files []string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	p.listings[p.next] = files
	if len(p.listings) > maxListings {
		oldest := p.next
		for id := range p.listings {
			if id < oldest {
				oldest = id
			}
		}
		delete(p.listings, oldest)
	}
	return p.next
}

func (p *FilesystemProvider) forget(id uint64) {
	p.mu.Lock()
	delete(p.listings, id)
	p.mu.Unlock()
}

// files lists matching paths relative to the root, sorted. fastwalk calls
// the walk function from several goroutines.
func (p *FilesystemProvider) files(ctx context.Context) ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, p.root, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && p.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.matches(rel) {
			return nil
		}

		mu.Lock()
		files = append(files, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.root, err)
	}

	sort.Strings(files)
	return files, nil
}

// skipDir reports whether an exclude pattern ending in "/**" covers every
// path below dir, so the walk need not enter it.
func (p *FilesystemProvider) skipDir(dir string) bool {
	for _, pattern := range p.exclude {
		if !strings.HasSuffix(pattern, "/**") {
			continue
		}
		if ok, _ := doublestar.Match(pattern, dir+"/_"); ok {
			return true
		}
	}
	return false
}

func (p *FilesystemProvider) matches(rel string) bool {
	for _, pattern := range p.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	for _, pattern := range p.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// read loads one file, skipping anything that is not text.
func (p *FilesystemProvider) read(rel string) (RawFragment, bool, error) {
	full := filepath.Join(p.root, filepath.FromSlash(rel))

	mtype, err := mimetype.DetectFile(full)
	if err != nil {
		return RawFragment{}, false, fmt.Errorf("detect %s: %w", rel, err)
	}
	if !isText(mtype) {
		return RawFragment{}, false, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return RawFragment{}, false, fmt.Errorf("read %s: %w", rel, err)
	}

	encoding := types.EncodingText
	if strings.EqualFold(filepath.Ext(rel), ".json") {
		encoding = types.EncodingJSON
	}
	return RawFragment{ID: rel, Title: rel, Content: data, Type: encoding}, true, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
