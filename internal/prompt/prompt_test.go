package prompt

import (
	"strings"
	"testing"

	"github.com/ashureev/geminichat/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestCompileEmptyConversation(t *testing.T) {
	got := Compile(nil)
	require.Equal(t, Preamble+Cue, got)
}

func TestCompileTranscript(t *testing.T) {
	msgs := []domain.Message{
		{ID: "1", Role: domain.RoleUser, Content: "What is Go?"},
		{ID: "2", Role: domain.RoleAssistant, Content: "A programming language."},
		{ID: "3", Role: domain.RoleUser, Content: "Who made it?"},
	}

	want := Preamble +
		"User: What is Go?\n" +
		"Assistant: A programming language.\n" +
		"User: Who made it?\n" +
		"Assistant:"
	require.Equal(t, want, Compile(msgs))
}

func TestCompileLineCount(t *testing.T) {
	for n := 0; n < 6; n++ {
		msgs := make([]domain.Message, 0, n)
		for i := 0; i < n; i++ {
			role := domain.RoleUser
			if i%2 == 1 {
				role = domain.RoleAssistant
			}
			msgs = append(msgs, domain.Message{Role: role, Content: "line"})
		}

		require.Equal(t, 2+n, nonBlankLines(Compile(msgs)), "messages=%d", n)
	}
}

func TestCompilePreservesOrder(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleUser, Content: "second"},
		{Role: domain.RoleAssistant, Content: "third"},
	}

	out := Compile(msgs)
	first := strings.Index(out, "first")
	second := strings.Index(out, "second")
	third := strings.Index(out, "third")
	require.True(t, first < second && second < third, "order not preserved: %q", out)
	require.True(t, strings.HasSuffix(out, "\n"+Cue))
}

func TestCompileIsDeterministic(t *testing.T) {
	msgs := []domain.Message{{Role: domain.RoleUser, Content: "hello"}}
	require.Equal(t, Compile(msgs), Compile(msgs))
	require.Equal(t, "hello", msgs[0].Content)
}

func nonBlankLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
