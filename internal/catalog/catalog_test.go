package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const article = `---
price: "0.10"
mint: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
description: Premium article
---
# Hello

Paid content.
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadPricedEntry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "premium.md", article)

	c := NewDirCatalog(dir, "default-mint")
	e, err := c.Read("premium")
	require.NoError(t, err)
	assert.Equal(t, "0.1", e.Price.String())
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", e.Mint)
	assert.Equal(t, "Premium article", e.Description)
	assert.Contains(t, string(e.Body), "# Hello")
	assert.NotContains(t, string(e.Body), "price:")
}

func TestFreeEntryWithoutFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "free.md", "# Free\n\nNo frontmatter here.\n")

	c := NewDirCatalog(dir, "default-mint")
	price, _, err := c.PriceOf("free")
	require.NoError(t, err)
	assert.True(t, price.IsZero())
	assert.True(t, c.Exists("free"))
}

func TestDefaultMintApplied(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "---\nprice: \"1.5\"\n---\nbody\n")

	c := NewDirCatalog(dir, "default-mint")
	price, mint, err := c.PriceOf("a")
	require.NoError(t, err)
	assert.Equal(t, "1.5", price.String())
	assert.Equal(t, "default-mint", mint)
}

func TestMissingAndInvalidSlugs(t *testing.T) {
	c := NewDirCatalog(t.TempDir(), "m")

	assert.False(t, c.Exists("nope"))
	_, _, err := c.PriceOf("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, slug := range []string{"", "../etc/passwd", "a/b", "a.b"} {
		_, err := c.Read(slug)
		assert.ErrorIs(t, err, ErrNotFound, "slug %q", slug)
	}
}

func TestInvalidPriceRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.md", "---\nprice: \"-2\"\n---\nbody\n")

	c := NewDirCatalog(dir, "m")
	_, err := c.Read("bad")
	require.Error(t, err)
}

func TestCacheInvalidatedOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "---\nprice: \"1\"\n---\nv1\n")

	c := NewDirCatalog(dir, "m")
	e, err := c.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "1", e.Price.String())

	// Different size forces a re-parse even on coarse mtime resolution.
	writeFile(t, dir, "a.md", "---\nprice: \"2.25\"\n---\nversion two\n")
	e, err = c.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "2.25", e.Price.String())
}
