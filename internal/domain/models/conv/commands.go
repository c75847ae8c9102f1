package conv

import (
	"strings"
)

// Content commands short-circuit the normal text-generation path: the
// orchestrator detects a command token at the start of the user's turn,
// delegates to the matching provider capability, and writes a single final
// result rather than a token stream.
const (
	CommandNone   = ""
	CommandImage  = "image"
	CommandSearch = "search"
)

// ParseCommand extracts a leading content command from a user turn.
// Recognized forms: "/image <prompt>" and "/search <query>".
// Returns (CommandNone, content) when the turn is ordinary text.
func ParseCommand(content string) (command, rest string) {
	trimmed := strings.TrimSpace(content)

	for _, cmd := range []string{CommandImage, CommandSearch} {
		prefix := "/" + cmd
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		// Bare "/image" with no prompt is treated as plain text
		if rest == "" {
			return CommandNone, content
		}
		return cmd, rest
	}

	return CommandNone, content
}
