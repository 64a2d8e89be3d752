package chat

import (
	"github.com/forPelevin/gomoji"
)

// ValidateReaction checks that the reaction is exactly one emoji and nothing else
func ValidateReaction(reaction string) error {
	// CollectAll keeps repeats, so "👍👍" counts as two
	emojis := gomoji.CollectAll(reaction)
	if len(emojis) != 1 {
		return ErrInvalidReaction
	}
	if emojis[0].Character != reaction {
		return ErrInvalidReaction
	}
	return nil
}
