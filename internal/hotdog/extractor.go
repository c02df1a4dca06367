// Package hotdog extracts the hotdog signal from Slack message text.
package hotdog

import "strings"

const (
	// Shortcode is the Slack emoji shortcode surface form of the marker.
	Shortcode = ":hotdog:"
	// Emoji is the Unicode surface form of the marker (U+1F32D).
	Emoji = "\U0001F32D"
	// ReactionName is the marker's name as it appears in reaction events.
	ReactionName = "hotdog"
)

// Count returns the number of marker occurrences in text. The shortcode and
// Unicode forms are counted independently and summed; a message carrying both
// contributes one occurrence per form. Empty text yields 0.
func Count(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, Shortcode) + strings.Count(text, Emoji)
}
