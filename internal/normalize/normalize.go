// Package normalize maps raw repository records onto the display models.
//
// It is the only place that knows the repository's field shapes: every field
// gets exactly one canonical shape here and is validated on the way through.
// Malformed records fail with *apperr.MissingFieldError instead of being
// defaulted.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/models"
)

// wordsPerMinute drives the reading time estimate.
const wordsPerMinute = 200

// Normalizer converts raw records. It holds no mutable state.
type Normalizer struct {
	dates DateFormatter
}

// New returns a Normalizer formatting dates for locale.
func New(locale string) *Normalizer {
	return &Normalizer{dates: NewDateFormatter(locale)}
}

// Default normalizes with the pt_BR date convention.
var Default = New(DefaultLocale)

// NormalizeSummary normalizes a listing record with the default locale.
func NormalizeSummary(raw models.RawRecord) (models.PostSummary, error) {
	return Default.Summary(raw)
}

// NormalizeDetail normalizes a detail record with the default locale.
func NormalizeDetail(raw models.RawRecord) (models.PostDetail, error) {
	return Default.Detail(raw)
}

// Summary builds a PostSummary from a listing record.
func (n *Normalizer) Summary(raw models.RawRecord) (models.PostSummary, error) {
	id := recordID(raw)
	if raw.UID == "" {
		return models.PostSummary{}, apperr.Missing(id, "uid")
	}
	date, err := n.dates.Format(raw.FirstPublicationDate)
	if err != nil {
		return models.PostSummary{}, apperr.Malformed(id, "first_publication_date", err.Error())
	}
	title, err := firstSpanText(raw, "title")
	if err != nil {
		return models.PostSummary{}, err
	}
	subtitle, err := firstSpanText(raw, "subtitle")
	if err != nil {
		return models.PostSummary{}, err
	}
	author, err := plainText(raw, "author")
	if err != nil {
		return models.PostSummary{}, err
	}
	return models.PostSummary{
		UID:                  raw.UID,
		FirstPublicationDate: date,
		Title:                title,
		Subtitle:             subtitle,
		Author:               author,
	}, nil
}

// Summaries normalizes a whole page. It is all-or-nothing: the first
// malformed record fails the page.
func (n *Normalizer) Summaries(raws []models.RawRecord) ([]models.PostSummary, error) {
	out := make([]models.PostSummary, 0, len(raws))
	for _, raw := range raws {
		s, err := n.Summary(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Detail builds a PostDetail from a single-record lookup.
func (n *Normalizer) Detail(raw models.RawRecord) (models.PostDetail, error) {
	id := recordID(raw)
	if raw.UID == "" {
		return models.PostDetail{}, apperr.Missing(id, "uid")
	}
	first, err := n.dates.Format(raw.FirstPublicationDate)
	if err != nil {
		return models.PostDetail{}, apperr.Malformed(id, "first_publication_date", err.Error())
	}
	var last *string
	if raw.LastPublicationDate != nil && (raw.FirstPublicationDate == nil || *raw.LastPublicationDate != *raw.FirstPublicationDate) {
		if last, err = n.dates.Format(raw.LastPublicationDate); err != nil {
			return models.PostDetail{}, apperr.Malformed(id, "last_publication_date", err.Error())
		}
	}
	title, err := firstSpanText(raw, "title")
	if err != nil {
		return models.PostDetail{}, err
	}
	subtitle, err := optionalSpanText(raw, "subtitle")
	if err != nil {
		return models.PostDetail{}, err
	}
	author, err := plainText(raw, "author")
	if err != nil {
		return models.PostDetail{}, err
	}
	banner, err := imageURL(raw, "banner")
	if err != nil {
		return models.PostDetail{}, err
	}
	content, err := contentBlocks(raw, "content")
	if err != nil {
		return models.PostDetail{}, err
	}
	return models.PostDetail{
		UID:                  raw.UID,
		FirstPublicationDate: first,
		LastPublicationDate:  last,
		Title:                title,
		Subtitle:             subtitle,
		BannerURL:            banner,
		Author:               author,
		ReadingMinutes:       readingMinutes(content),
		Content:              content,
	}, nil
}

func recordID(raw models.RawRecord) string {
	if raw.ID != "" {
		return raw.ID
	}
	return raw.UID
}

// field returns the raw value of name, or nil when it is absent or null.
func field(raw models.RawRecord, name string) json.RawMessage {
	msg, ok := raw.Data[name]
	if !ok {
		return nil
	}
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil
	}
	return msg
}

func richText(raw models.RawRecord, name string) ([]models.RichTextSpan, error) {
	msg := field(raw, name)
	if msg == nil {
		return nil, nil
	}
	var spans []models.RichTextSpan
	if err := json.Unmarshal(msg, &spans); err != nil {
		return nil, apperr.Malformed(recordID(raw), name, "expected rich text")
	}
	return spans, nil
}

// firstSpanText extracts the first span of a single-span rich-text field.
func firstSpanText(raw models.RawRecord, name string) (string, error) {
	spans, err := richText(raw, name)
	if err != nil {
		return "", err
	}
	if len(spans) == 0 {
		return "", apperr.Missing(recordID(raw), name)
	}
	return spans[0].Text, nil
}

func optionalSpanText(raw models.RawRecord, name string) (string, error) {
	spans, err := richText(raw, name)
	if err != nil || len(spans) == 0 {
		return "", err
	}
	return spans[0].Text, nil
}

// plainText reads a key-text field. Blank values count as missing.
func plainText(raw models.RawRecord, name string) (string, error) {
	msg := field(raw, name)
	if msg == nil {
		return "", apperr.Missing(recordID(raw), name)
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return "", apperr.Malformed(recordID(raw), name, "expected plain text")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Missing(recordID(raw), name)
	}
	return s, nil
}

func imageURL(raw models.RawRecord, name string) (string, error) {
	msg := field(raw, name)
	if msg == nil {
		return "", nil
	}
	var img struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(msg, &img); err != nil {
		return "", apperr.Malformed(recordID(raw), name, "expected image")
	}
	return img.URL, nil
}

func contentBlocks(raw models.RawRecord, name string) ([]models.ContentBlock, error) {
	msg := field(raw, name)
	if msg == nil {
		return []models.ContentBlock{}, nil
	}
	var group []struct {
		Heading json.RawMessage `json:"heading"`
		Body    json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(msg, &group); err != nil {
		return nil, apperr.Malformed(recordID(raw), name, "expected group")
	}
	blocks := make([]models.ContentBlock, 0, len(group))
	for _, item := range group {
		block := models.ContentBlock{Body: []models.RichTextSpan{}}
		if h := bytes.TrimSpace(item.Heading); len(h) > 0 && !bytes.Equal(h, []byte("null")) {
			if err := json.Unmarshal(h, &block.Heading); err != nil {
				return nil, apperr.Malformed(recordID(raw), name+".heading", "expected plain text")
			}
		}
		if b := bytes.TrimSpace(item.Body); len(b) > 0 && !bytes.Equal(b, []byte("null")) {
			if err := json.Unmarshal(b, &block.Body); err != nil {
				return nil, apperr.Malformed(recordID(raw), name+".body", "expected rich text")
			}
			if block.Body == nil {
				block.Body = []models.RichTextSpan{}
			}
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func readingMinutes(blocks []models.ContentBlock) int {
	words := 0
	for _, b := range blocks {
		words += len(strings.Fields(b.Heading))
		for _, s := range b.Body {
			words += len(strings.Fields(s.Text))
		}
	}
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / wordsPerMinute))
}
