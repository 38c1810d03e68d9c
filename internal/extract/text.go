package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/forPelevin/gomoji"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"insta_spider/internal/models"
)

// leftovers covers what gomoji leaves when an emoji sequence is broken or
// unqualified: joiners, variation selectors, keycap marks, skin tones, tags
// and bare pictographs.
var leftovers = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00a9, Hi: 0x00ae, Stride: 5},
		{Lo: 0x200d, Hi: 0x200d, Stride: 1},
		{Lo: 0x203c, Hi: 0x203c, Stride: 1},
		{Lo: 0x2049, Hi: 0x2049, Stride: 1},
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1},
		{Lo: 0x2122, Hi: 0x2122, Stride: 1},
		{Lo: 0x2139, Hi: 0x2139, Stride: 1},
		{Lo: 0x2194, Hi: 0x21aa, Stride: 1},
		{Lo: 0x231a, Hi: 0x231b, Stride: 1},
		{Lo: 0x2328, Hi: 0x2328, Stride: 1},
		{Lo: 0x23cf, Hi: 0x23cf, Stride: 1},
		{Lo: 0x23e9, Hi: 0x23f3, Stride: 1},
		{Lo: 0x23f8, Hi: 0x23fa, Stride: 1},
		{Lo: 0x24c2, Hi: 0x24c2, Stride: 1},
		{Lo: 0x25aa, Hi: 0x25fe, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2934, Hi: 0x2935, Stride: 1},
		{Lo: 0x2b05, Hi: 0x2b55, Stride: 1},
		{Lo: 0x3030, Hi: 0x3030, Stride: 1},
		{Lo: 0x303d, Hi: 0x303d, Stride: 1},
		{Lo: 0x3297, Hi: 0x3299, Stride: 2},
		{Lo: 0xfe0e, Hi: 0xfe0f, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1},
		{Lo: 0xe0020, Hi: 0xe007f, Stride: 1},
	},
}

// Braille blanks are used as visual spacers in captions.
var blankRun = regexp.MustCompile(`\x{2800}+`)

// StripEmoji removes emoji and collapses blank-glyph runs into a space.
func StripEmoji(s string) string {
	out := gomoji.RemoveEmojis(s)
	if cleaned, _, err := transform.String(runes.Remove(runes.In(leftovers)), out); err == nil {
		out = cleaned
	}
	return strings.TrimSpace(blankRun.ReplaceAllString(out, " "))
}

// ParseCount turns a comma-grouped counter such as "1,234" into an integer.
func ParseCount(s string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("parse count: empty input: %w", ErrMissingField)
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", s, err)
	}
	return n, nil
}

// ParseTimestamp reads a datetime attribute. Zoned ISO values are honored;
// anything else is read as "YYYY-MM-DDTHH:MM:SS" in loc.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.In(loc).Truncate(time.Second), nil
	}
	if len(raw) > 19 {
		raw = raw[:19]
	}
	t, err := time.ParseInLocation(models.TimeLayout, strings.Replace(raw, "T", " ", 1), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

// Cutoff is the oldest publish instant still collected for a capture instant.
func Cutoff(crawlAt time.Time, window time.Duration) time.Time {
	return crawlAt.Add(-window)
}

// IsStale reports whether published falls before the recency cutoff, at
// second precision.
func IsStale(published, crawlAt time.Time, window time.Duration) bool {
	return published.Unix() < Cutoff(crawlAt, window).Unix()
}
