// ABOUTME: Extracts @mentions from message text with source offsets
// ABOUTME: @all and @here address everyone; any other @word is an identity mention

package ledger

import "regexp"

// MentionKind distinguishes everyone-mentions from identity mentions.
type MentionKind string

const (
	MentionEveryone MentionKind = "everyone"
	MentionIdentity MentionKind = "identity"
)

// Mention records one @token in a message, with its byte offset and length
// in the original text (including the leading @).
type Mention struct {
	Kind   MentionKind `json:"kind"`
	Target string      `json:"target,omitempty"`
	Start  int         `json:"start"`
	Length int         `json:"length"`
}

var mentionPattern = regexp.MustCompile(`@\w+`)

// extractMentions scans text for @word tokens in source order.
func extractMentions(text string) []Mention {
	matches := mentionPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	mentions := make([]Mention, 0, len(matches))
	for _, m := range matches {
		token := text[m[0]+1 : m[1]]
		kind := MentionIdentity
		target := token
		if token == "all" || token == "here" {
			kind = MentionEveryone
			target = ""
		}
		mentions = append(mentions, Mention{
			Kind:   kind,
			Target: target,
			Start:  m[0],
			Length: m[1] - m[0],
		})
	}
	return mentions
}
