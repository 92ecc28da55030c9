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

// Package content parses and indexes the Markdown/MDX content tree.
package content

import "time"

// PostConfig is the shape of a post's config.toml.
type PostConfig struct {
	Title        string     `toml:"title"`
	Subtitle     string     `toml:"subtitle"`
	PreviewText  string     `toml:"preview_text"`
	PreviewImage string     `toml:"preview_image"`
	Tags         []string   `toml:"tags"`
	GoesLiveAt   *time.Time `toml:"goes_live_at"`
	Order        *int       `toml:"order"`
}

// SeriesConfig is the shape of a series.toml.
type SeriesConfig struct {
	Title        string     `toml:"title"`
	Description  string     `toml:"description"`
	PreviewImage string     `toml:"preview_image"`
	GoesLiveAt   *time.Time `toml:"goes_live_at"`
}

// Post is a single piece of content with its full MDX source.
type Post struct {
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Subtitle     string     `json:"subtitle,omitempty"`
	PreviewText  string     `json:"preview_text"`
	PreviewImage string     `json:"preview_image,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	GoesLiveAt   *time.Time `json:"goes_live_at,omitempty"`
	SeriesSlug   string     `json:"series_slug,omitempty"`
	Content      string     `json:"content"`
	Order        *int       `json:"order,omitempty"`
}

// PostSummary is a post without its content, for list endpoints.
type PostSummary struct {
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Subtitle     string     `json:"subtitle,omitempty"`
	PreviewText  string     `json:"preview_text"`
	PreviewImage string     `json:"preview_image,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	GoesLiveAt   *time.Time `json:"goes_live_at,omitempty"`
	SeriesSlug   string     `json:"series_slug,omitempty"`
}

// Summary strips a post down to its listing form.
func (p *Post) Summary() PostSummary {
	return PostSummary{
		Slug:         p.Slug,
		Title:        p.Title,
		Subtitle:     p.Subtitle,
		PreviewText:  p.PreviewText,
		PreviewImage: p.PreviewImage,
		Tags:         p.Tags,
		GoesLiveAt:   p.GoesLiveAt,
		SeriesSlug:   p.SeriesSlug,
	}
}

// Series is a series with its member posts inlined, in order.
type Series struct {
	Slug         string              `json:"slug"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	PreviewImage string              `json:"preview_image,omitempty"`
	GoesLiveAt   *time.Time          `json:"goes_live_at,omitempty"`
	Posts        []SeriesPostSummary `json:"posts"`
}

// SeriesSummary is a series without its posts, for list endpoints.
type SeriesSummary struct {
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	PreviewImage string     `json:"preview_image,omitempty"`
	GoesLiveAt   *time.Time `json:"goes_live_at,omitempty"`
	PostCount    int        `json:"post_count"`
}

// SeriesPostSummary is a post as listed inside its series, including order.
type SeriesPostSummary struct {
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Subtitle     string     `json:"subtitle,omitempty"`
	PreviewText  string     `json:"preview_text"`
	PreviewImage string     `json:"preview_image,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	GoesLiveAt   *time.Time `json:"goes_live_at,omitempty"`
	Order        *int       `json:"order,omitempty"`
}

// ListOptions filters and paginates list queries. A nil Limit means the
// default page size.
type ListOptions struct {
	IncludeDrafts    bool
	IncludeScheduled bool
	Limit            *int
	Offset           int
}

// ListResult is one page of a filtered listing.
type ListResult[T any] struct {
	Items  []T
	Total  int
	Limit  int
	Offset int
}

// ValidationError describes one problem found in the content tree.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Visible reports whether an item with the given goes_live_at should appear
// in a listing: drafts (no date) and scheduled items (future date) only when
// asked for, live items always.
func Visible(goesLiveAt *time.Time, opts ListOptions, now time.Time) bool {
	switch {
	case goesLiveAt == nil:
		return opts.IncludeDrafts
	case goesLiveAt.After(now):
		return opts.IncludeScheduled
	default:
		return true
	}
}
