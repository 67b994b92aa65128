package rotation

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// maxTitleLength is the strictest title limit across the supported
	// broadcast platforms.
	maxTitleLength = 140

	// titleSeparator joins the template prefix and the playlist names.
	titleSeparator = " | "

	// gamesPlaceholder is expanded in the owner's title template.
	gamesPlaceholder = "{GAMES}"
)

var titleCaser = cases.Upper(language.Und)

// BuildTitle renders the owner's title template for a rotation. {GAMES}
// expands to the playlist names joined by the separator, uppercased. A
// template without the placeholder gets the names appended; an empty
// template degrades to the bare name list.
func BuildTitle(template string, names []string) string {
	games := titleCaser.String(strings.Join(names, titleSeparator))

	switch {
	case strings.Contains(template, gamesPlaceholder):
		return strings.ReplaceAll(template, gamesPlaceholder, games)
	case template == "":
		return games
	case games == "":
		return template
	default:
		return template + titleSeparator + games
	}
}

// TruncateTitle enforces the platform title limit. Overlong titles lose
// trailing separator segments one at a time, never the leading template
// text; when room remains after truncation a trailing separator is kept so
// viewers can tell the list continues.
func TruncateTitle(title string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(title) <= limit {
		return title
	}

	segments := strings.Split(title, titleSeparator)
	for len(segments) > 1 && utf8.RuneCountInString(strings.Join(segments, titleSeparator)) > limit {
		segments = segments[:len(segments)-1]
	}

	out := strings.Join(segments, titleSeparator)
	if utf8.RuneCountInString(out) > limit {
		runes := []rune(out)
		return string(runes[:limit])
	}
	if utf8.RuneCountInString(out)+utf8.RuneCountInString(titleSeparator) <= limit {
		out += titleSeparator
	}
	return out
}
