// Package catalog resolves priced resources. The engine only depends on the
// price/existence lookup; the directory implementation also serves the
// markdown body for the transport layer.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrNotFound means no resource exists under the slug.
var ErrNotFound = errors.New("resource not found")

// Entry is one priced resource.
type Entry struct {
	Slug        string
	Price       decimal.Decimal // display units; zero means free
	Mint        string
	Description string
	Body        []byte
}

// Catalog is the lookup the paywall engine consumes.
type Catalog interface {
	Exists(slug string) bool
	// PriceOf returns the display price and token mint for a resource.
	PriceOf(slug string) (decimal.Decimal, string, error)
	Read(slug string) (*Entry, error)
}

type frontmatter struct {
	Price       string `yaml:"price"`
	Mint        string `yaml:"mint"`
	Description string `yaml:"description"`
}

type cached struct {
	entry   *Entry
	modTime time.Time
	size    int64
}

// DirCatalog serves markdown files from a directory. Pricing lives in YAML
// frontmatter; files without a price are free. Parsed entries are cached and
// invalidated on mtime/size change.
type DirCatalog struct {
	dir         string
	defaultMint string

	mu    sync.RWMutex
	cache map[string]cached
}

var _ Catalog = (*DirCatalog)(nil)

// NewDirCatalog creates a catalog over dir. defaultMint applies to priced
// entries whose frontmatter names no mint.
func NewDirCatalog(dir, defaultMint string) *DirCatalog {
	return &DirCatalog{dir: dir, defaultMint: defaultMint, cache: make(map[string]cached)}
}

func (c *DirCatalog) Exists(slug string) bool {
	_, err := c.Read(slug)
	return err == nil
}

func (c *DirCatalog) PriceOf(slug string) (decimal.Decimal, string, error) {
	e, err := c.Read(slug)
	if err != nil {
		return decimal.Zero, "", err
	}
	return e.Price, e.Mint, nil
}

func (c *DirCatalog) Read(slug string) (*Entry, error) {
	if !validSlug(slug) {
		return nil, ErrNotFound
	}
	path := filepath.Join(c.dir, slug+".md")

	info, err := os.Stat(path)
	if err != nil {
		return nil, ErrNotFound
	}

	c.mu.RLock()
	hit, ok := c.cache[slug]
	c.mu.RUnlock()
	if ok && hit.modTime.Equal(info.ModTime()) && hit.size == info.Size() {
		return hit.entry, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrNotFound
	}
	entry, err := parseEntry(slug, raw, c.defaultMint)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[slug] = cached{entry: entry, modTime: info.ModTime(), size: info.Size()}
	c.mu.Unlock()
	return entry, nil
}

func validSlug(slug string) bool {
	if slug == "" || len(slug) > 128 {
		return false
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

var frontmatterDelim = []byte("---")

func parseEntry(slug string, raw []byte, defaultMint string) (*Entry, error) {
	entry := &Entry{Slug: slug, Price: decimal.Zero, Body: raw}

	trimmed := bytes.TrimLeft(raw, "\uFEFF\r\n")
	if !bytes.HasPrefix(trimmed, frontmatterDelim) {
		return entry, nil
	}
	rest := trimmed[len(frontmatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontmatterDelim...))
	if end < 0 {
		return entry, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter of %s: %w", slug, err)
	}

	body := rest[end+1+len(frontmatterDelim):]
	entry.Body = bytes.TrimLeft(body, "\r\n")
	entry.Description = fm.Description
	entry.Mint = fm.Mint
	if entry.Mint == "" {
		entry.Mint = defaultMint
	}

	if strings.TrimSpace(fm.Price) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(fm.Price))
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("invalid price %q in %s", fm.Price, slug)
		}
		entry.Price = price
	}
	return entry, nil
}
