// Package models defines the raw repository records and the display models
// produced from them.
package models

import "encoding/json"

// RawRecord is a repository-native document as returned by the content
// repository. Field data stays undecoded until the normalizer fixes its shape.
type RawRecord struct {
	ID                   string                     `json:"id"`
	UID                  string                     `json:"uid,omitempty"`
	Type                 string                     `json:"type"`
	Href                 string                     `json:"href,omitempty"`
	Tags                 []string                   `json:"tags,omitempty"`
	Lang                 string                     `json:"lang,omitempty"`
	FirstPublicationDate *string                    `json:"first_publication_date"`
	LastPublicationDate  *string                    `json:"last_publication_date"`
	Data                 map[string]json.RawMessage `json:"data"`
}

// RawPage is one page of a repository query. NextPage is directly fetchable
// and returns the same shape.
type RawPage struct {
	Page             int         `json:"page"`
	ResultsPerPage   int         `json:"results_per_page"`
	TotalResultsSize int         `json:"total_results_size"`
	TotalPages       int         `json:"total_pages"`
	NextPage         *string     `json:"next_page"`
	PrevPage         *string     `json:"prev_page"`
	Results          []RawRecord `json:"results"`
}

// Cursor returns the next page URL, or "" when the stream is exhausted.
func (p *RawPage) Cursor() string {
	if p == nil || p.NextPage == nil {
		return ""
	}
	return *p.NextPage
}

// RichTextSpan is one structured rich-text element (a paragraph, heading,
// list item, image or embed) with its typed formatting ranges.
type RichTextSpan struct {
	Type   string       `json:"type"`
	Text   string       `json:"text"`
	Spans  []Formatting `json:"spans"`
	URL    string       `json:"url,omitempty"`
	Alt    string       `json:"alt,omitempty"`
	Oembed *Oembed      `json:"oembed,omitempty"`
}

// Formatting marks the range [Start, End) of an element's text, counted in
// UTF-16 code units.
type Formatting struct {
	Start int       `json:"start"`
	End   int       `json:"end"`
	Type  string    `json:"type"`
	Data  *LinkData `json:"data,omitempty"`
}

// LinkData carries the target of a hyperlink or the name of a label.
type LinkData struct {
	LinkType string `json:"link_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Target   string `json:"target,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Oembed is the subset of embed metadata the renderer uses.
type Oembed struct {
	EmbedURL string `json:"embed_url"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
}

// PostSummary is the listing display model.
type PostSummary struct {
	UID                  string  `json:"uid"`
	FirstPublicationDate *string `json:"first_publication_date"`
	Title                string  `json:"title"`
	Subtitle             string  `json:"subtitle"`
	Author               string  `json:"author"`
}

// ContentBlock is one section of a post: a heading followed by its body.
type ContentBlock struct {
	Heading string         `json:"heading"`
	Body    []RichTextSpan `json:"body"`
}

// PostDetail is the detail page display model. Content keeps the source
// reading order.
type PostDetail struct {
	UID                  string         `json:"uid"`
	FirstPublicationDate *string        `json:"first_publication_date"`
	LastPublicationDate  *string        `json:"last_publication_date,omitempty"`
	Title                string         `json:"title"`
	Subtitle             string         `json:"subtitle,omitempty"`
	BannerURL            string         `json:"banner_url"`
	Author               string         `json:"author"`
	ReadingMinutes       int            `json:"reading_minutes"`
	Content              []ContentBlock `json:"content"`
}
