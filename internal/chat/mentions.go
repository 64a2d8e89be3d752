package chat

import (
	"regexp"
	"strings"

	"github.com/leaguechat/pkg/models"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentionTokens returns the usernames tagged with @ in text, in order of
// appearance. Duplicates are kept and tokens are not checked against real users.
func ExtractMentionTokens(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// RenderMentionMarkup wraps every literal "@username" of the given profiles in
// bold markup. Matching is case-sensitive and purely textual, so a username
// that is a prefix of a longer token is wrapped as well.
func RenderMentionMarkup(text string, profiles []models.MemberProfile) string {
	for _, p := range profiles {
		if p.Username == "" {
			continue
		}
		tag := "@" + p.Username
		text = strings.ReplaceAll(text, tag, "**"+tag+"**")
	}
	return text
}

// ResolveMentions maps mention tokens to the ids of league members with that
// exact username. Unknown tokens are dropped and each user appears once.
func ResolveMentions(tokens []string, members []models.MemberProfile) []string {
	if len(tokens) == 0 || len(members) == 0 {
		return nil
	}

	byUsername := make(map[string]string, len(members))
	for _, m := range members {
		if m.Username != "" {
			byUsername[m.Username] = m.ID
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, token := range tokens {
		id, ok := byUsername[token]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
