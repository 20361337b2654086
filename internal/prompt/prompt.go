// Package prompt linearizes a conversation into a single completion prompt.
package prompt

import (
	"strings"

	"github.com/ashureev/geminichat/internal/domain"
)

// Preamble tells the model how to treat the transcript that follows.
const Preamble = "Use the conversation history to answer the new question. " +
	"If conversation history is not available then just give response to user query. \n\n"

// Cue marks where the model should continue.
const Cue = "Assistant:"

const (
	userPrefix      = "User: "
	assistantPrefix = "Assistant: "
)

// Compile renders the ordered conversation as a one-shot prompt.
// An empty conversation yields the preamble followed by the cue.
func Compile(messages []domain.Message) string {
	var b strings.Builder
	b.WriteString(Preamble)
	for _, msg := range messages {
		if msg.Role == domain.RoleUser {
			b.WriteString(userPrefix)
		} else {
			b.WriteString(assistantPrefix)
		}
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	b.WriteString(Cue)
	return b.String()
}
