package normalize

import (
	"strings"

	"github.com/araddon/dateparse"
	"github.com/goodsign/monday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultLocale is the locale the blog formats publication dates with.
const DefaultLocale = "pt_BR"

// dateLayout renders as "dd MMM yyyy".
const dateLayout = "02 Jan 2006"

// DateFormatter renders repository timestamps as localized "dd MMM yyyy" dates.
type DateFormatter struct {
	locale monday.Locale
	tag    language.Tag
}

// NewDateFormatter returns a formatter for a locale such as "pt_BR".
func NewDateFormatter(locale string) DateFormatter {
	if locale == "" {
		locale = DefaultLocale
	}
	return DateFormatter{
		locale: monday.Locale(locale),
		tag:    language.Make(strings.ReplaceAll(locale, "_", "-")),
	}
}

// Format parses an ISO timestamp and renders it. A nil or blank timestamp
// yields nil; an unparsable one is reported as an error.
func (f DateFormatter) Format(ts *string) (*string, error) {
	if ts == nil || strings.TrimSpace(*ts) == "" {
		return nil, nil
	}
	t, err := dateparse.ParseAny(strings.TrimSpace(*ts))
	if err != nil {
		return nil, err
	}
	// cases.Caser is stateful; one per call.
	out := cases.Title(f.tag).String(monday.Format(t, dateLayout, f.locale))
	return &out, nil
}
