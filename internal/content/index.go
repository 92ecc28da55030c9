// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"rileycms/internal/config"
)

// Default and maximum page sizes for list queries.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Index is an immutable snapshot of the parsed content tree. It is built by
// Load and never mutated afterwards; the Store swaps whole Index values.
type Index struct {
	posts  map[string]*Post
	series map[string]*seriesData
	etag   string
}

type seriesData struct {
	slug      string
	config    SeriesConfig
	postSlugs []string
}

// Load walks the content directory and parses every post and series. Items
// that fail to parse are logged and skipped; the service keeps running on
// the rest.
func Load(cfg config.ContentConfig) (*Index, error) {
	contentPath := filepath.Join(cfg.RepoPath, cfg.ContentDir)

	idx := &Index{
		posts:  make(map[string]*Post),
		series: make(map[string]*seriesData),
	}

	entries, err := os.ReadDir(contentPath)
	if err != nil {
		if os.IsNotExist(err) {
			idx.etag = computeETag(idx.posts, idx.series)
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	var errCount int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		slug := entry.Name()
		dir := filepath.Join(contentPath, slug)

		if _, err := os.Stat(filepath.Join(dir, "series.toml")); err == nil {
			sd, posts, err := loadSeries(dir, slug)
			if err != nil {
				slog.Error("Failed to load series", "slug", slug, "error", err)
				errCount++
				continue
			}
			idx.series[slug] = sd
			for _, p := range posts {
				idx.posts[p.Slug] = p
			}
			continue
		}

		if hasPostFiles(dir) {
			post, err := loadPost(dir, slug, "")
			if err != nil {
				slog.Error("Failed to load post", "slug", slug, "error", err)
				errCount++
				continue
			}
			idx.posts[slug] = post
		}
	}

	if errCount > 0 {
		slog.Warn("Content loaded with errors",
			"errors", errCount, "posts", len(idx.posts), "series", len(idx.series))
	} else {
		slog.Info("Content loaded", "posts", len(idx.posts), "series", len(idx.series))
	}

	idx.etag = computeETag(idx.posts, idx.series)
	return idx, nil
}

func hasPostFiles(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "content.mdx")); err != nil {
		return false
	}
	return true
}

func loadPost(dir, slug, seriesSlug string) (*Post, error) {
	var cfg PostConfig
	if _, err := toml.DecodeFile(filepath.Join(dir, "config.toml"), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.toml: %w", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "content.mdx"))
	if err != nil {
		return nil, fmt.Errorf("failed to read content.mdx: %w", err)
	}

	return &Post{
		Slug:         slug,
		Title:        cfg.Title,
		Subtitle:     cfg.Subtitle,
		PreviewText:  cfg.PreviewText,
		PreviewImage: cfg.PreviewImage,
		Tags:         cfg.Tags,
		GoesLiveAt:   cfg.GoesLiveAt,
		SeriesSlug:   seriesSlug,
		Content:      string(body),
		Order:        cfg.Order,
	}, nil
}

func loadSeries(dir, slug string) (*seriesData, []*Post, error) {
	var cfg SeriesConfig
	if _, err := toml.DecodeFile(filepath.Join(dir, "series.toml"), &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse series.toml: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read series directory: %w", err)
	}

	var posts []*Post
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		postDir := filepath.Join(dir, entry.Name())
		if !hasPostFiles(postDir) {
			continue
		}
		post, err := loadPost(postDir, entry.Name(), slug)
		if err != nil {
			return nil, nil, err
		}
		posts = append(posts, post)
	}

	// Members sort by order ascending; members without an order come after
	// those with one, ties break on slug.
	sort.Slice(posts, func(i, j int) bool {
		return lessByOrder(posts[i].Order, posts[j].Order, posts[i].Slug, posts[j].Slug)
	})

	slugs := make([]string, len(posts))
	for i, p := range posts {
		slugs[i] = p.Slug
	}

	return &seriesData{slug: slug, config: cfg, postSlugs: slugs}, posts, nil
}

func lessByOrder(a, b *int, slugA, slugB string) bool {
	switch {
	case a != nil && b != nil:
		if *a != *b {
			return *a < *b
		}
		return slugA < slugB
	case a != nil:
		return true
	case b != nil:
		return false
	default:
		return slugA < slugB
	}
}

// computeETag hashes the sorted post slugs with their content bytes, then
// the sorted series slugs. The result is stable across processes for
// identical content.
func computeETag(posts map[string]*Post, series map[string]*seriesData) string {
	h := sha256.New()

	postKeys := make([]string, 0, len(posts))
	for k := range posts {
		postKeys = append(postKeys, k)
	}
	sort.Strings(postKeys)
	for _, k := range postKeys {
		h.Write([]byte(k))
		h.Write([]byte(posts[k].Content))
	}

	seriesKeys := make([]string, 0, len(series))
	for k := range series {
		seriesKeys = append(seriesKeys, k)
	}
	sort.Strings(seriesKeys)
	for _, k := range seriesKeys {
		h.Write([]byte(k))
	}

	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// ETag returns the strong HTTP entity tag for this snapshot.
func (idx *Index) ETag() string {
	return idx.etag
}

func clampLimit(opts ListOptions) int {
	limit := DefaultPageSize
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

// ListPosts returns a page of post summaries. Ordering is goes_live_at
// descending with undated posts last; ties break on slug ascending.
func (idx *Index) ListPosts(opts ListOptions) ListResult[PostSummary] {
	now := time.Now().UTC()
	limit := clampLimit(opts)

	var filtered []*Post
	for _, p := range idx.posts {
		if Visible(p.GoesLiveAt, opts, now) {
			filtered = append(filtered, p)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return lessByDate(filtered[i].GoesLiveAt, filtered[j].GoesLiveAt,
			filtered[i].Slug, filtered[j].Slug)
	})

	total := len(filtered)
	items := make([]PostSummary, 0, limit)
	for _, p := range paginate(filtered, opts.Offset, limit) {
		items = append(items, p.Summary())
	}

	return ListResult[PostSummary]{Items: items, Total: total, Limit: limit, Offset: opts.Offset}
}

// ListSeries returns a page of series summaries, ordered like posts.
func (idx *Index) ListSeries(opts ListOptions) ListResult[SeriesSummary] {
	now := time.Now().UTC()
	limit := clampLimit(opts)

	var filtered []*seriesData
	for _, s := range idx.series {
		if Visible(s.config.GoesLiveAt, opts, now) {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return lessByDate(filtered[i].config.GoesLiveAt, filtered[j].config.GoesLiveAt,
			filtered[i].slug, filtered[j].slug)
	})

	total := len(filtered)
	items := make([]SeriesSummary, 0, limit)
	for _, s := range paginate(filtered, opts.Offset, limit) {
		items = append(items, SeriesSummary{
			Slug:         s.slug,
			Title:        s.config.Title,
			Description:  s.config.Description,
			PreviewImage: s.config.PreviewImage,
			GoesLiveAt:   s.config.GoesLiveAt,
			PostCount:    len(s.postSlugs),
		})
	}

	return ListResult[SeriesSummary]{Items: items, Total: total, Limit: limit, Offset: opts.Offset}
}

// lessByDate orders newest first; items without a date sort last, and two
// dateless items fall back to slug order.
func lessByDate(a, b *time.Time, slugA, slugB string) bool {
	switch {
	case a != nil && b != nil:
		if !a.Equal(*b) {
			return a.After(*b)
		}
		return slugA < slugB
	case a != nil:
		return true
	case b != nil:
		return false
	default:
		return slugA < slugB
	}
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// GetPost returns a post by slug regardless of visibility, or nil. The HTTP
// layer applies the visibility check against the caller's auth status.
func (idx *Index) GetPost(slug string) *Post {
	return idx.posts[slug]
}

// GetSeries returns a series by slug with its member posts inlined in
// series order, or nil.
func (idx *Index) GetSeries(slug string) *Series {
	sd, ok := idx.series[slug]
	if !ok {
		return nil
	}

	posts := make([]SeriesPostSummary, 0, len(sd.postSlugs))
	for _, postSlug := range sd.postSlugs {
		p, ok := idx.posts[postSlug]
		if !ok {
			continue
		}
		posts = append(posts, SeriesPostSummary{
			Slug:         p.Slug,
			Title:        p.Title,
			Subtitle:     p.Subtitle,
			PreviewText:  p.PreviewText,
			PreviewImage: p.PreviewImage,
			Tags:         p.Tags,
			GoesLiveAt:   p.GoesLiveAt,
			Order:        p.Order,
		})
	}

	return &Series{
		Slug:         sd.slug,
		Title:        sd.config.Title,
		Description:  sd.config.Description,
		PreviewImage: sd.config.PreviewImage,
		GoesLiveAt:   sd.config.GoesLiveAt,
		Posts:        posts,
	}
}

// Validate checks the loaded content for structural problems.
func (idx *Index) Validate() []ValidationError {
	var errs []ValidationError

	for slug, post := range idx.posts {
		if post.Title == "" {
			errs = append(errs, ValidationError{
				Path:    slug + "/config.toml",
				Message: "title cannot be empty",
			})
		}
		if post.PreviewText == "" {
			errs = append(errs, ValidationError{
				Path:    slug + "/config.toml",
				Message: "preview_text cannot be empty",
			})
		}
		if post.Content == "" {
			errs = append(errs, ValidationError{
				Path:    slug + "/content.mdx",
				Message: "content cannot be empty",
			})
		}
	}

	for slug, sd := range idx.series {
		if sd.config.Title == "" {
			errs = append(errs, ValidationError{
				Path:    slug + "/series.toml",
				Message: "title cannot be empty",
			})
		}
	}

	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Path != errs[j].Path {
			return errs[i].Path < errs[j].Path
		}
		return errs[i].Message < errs[j].Message
	})
	return errs
}
