package session

import (
	"testing"

	"github.com/ashureev/geminichat/internal/domain"
	"github.com/ashureev/geminichat/internal/prompt"
	"github.com/stretchr/testify/require"
)

func TestSubmitAppendsUserMessageAndCompilesPrompt(t *testing.T) {
	s := NewState()

	next, compiled, ok := s.Submit("hello", "u1")
	require.True(t, ok)
	require.True(t, next.Pending())
	require.Equal(t, []domain.Message{{ID: "u1", Role: domain.RoleUser, Content: "hello"}}, next.Messages())
	require.Equal(t, prompt.Compile(next.Messages()), compiled)
	require.Zero(t, s.Len(), "receiver must not change")
}

func TestSubmitRejectsBlankText(t *testing.T) {
	for _, text := range []string{"", " ", "\n\t  "} {
		next, compiled, ok := NewState().Submit(text, "id")
		require.False(t, ok)
		require.Empty(t, compiled)
		require.Zero(t, next.Len())
		require.False(t, next.Pending())
	}
}

func TestSubmitRejectedWhilePending(t *testing.T) {
	s, _, ok := NewState().Submit("first", "u1")
	require.True(t, ok)

	next, _, ok := s.Submit("second", "u2")
	require.False(t, ok)
	require.Equal(t, 1, next.Len())
	require.Equal(t, s.Phase(), next.Phase())
}

func TestSucceedAppendsAssistantAndReturnsToIdle(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	turn := s.Phase().(Sending).Turn

	next, ok := s.Succeed(turn, "hello there", "a1")
	require.True(t, ok)
	require.IsType(t, Idle{}, next.Phase())
	msgs := next.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	require.Equal(t, domain.Message{ID: "a1", Role: domain.RoleAssistant, Content: "hello there"}, msgs[1])
}

func TestSucceedWithEmptyReplyUsesPlaceholder(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	next, ok := s.Succeed(s.Phase().(Sending).Turn, "", "a1")
	require.True(t, ok)
	require.Equal(t, NoResponse, next.Messages()[1].Content)
}

func TestFailKeepsUserMessage(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")

	next, ok := s.Fail(s.Phase().(Sending).Turn, FailureMessage)
	require.True(t, ok)
	require.False(t, next.Pending())
	require.Equal(t, FailureMessage, next.LastError())
	require.Equal(t, 1, next.Len())
}

func TestFailedStateAcceptsNewSubmission(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	s, _ = s.Fail(s.Phase().(Sending).Turn, FailureMessage)

	next, _, ok := s.Submit("again", "u2")
	require.True(t, ok)
	require.True(t, next.Pending())
	require.Equal(t, FailureMessage, next.LastError())
	require.Equal(t, 2, next.Len())

	snap := next.Snapshot()
	require.Equal(t, StatusSending, snap.Status)
	require.Equal(t, FailureMessage, snap.Error)
}

func TestErrorStaysUntilNextOutcome(t *testing.T) {
	s, _, _ := NewState().Submit("one", "u1")
	s, _ = s.Fail(s.Phase().(Sending).Turn, "first failure")

	retry, _, _ := s.Submit("two", "u2")
	require.Equal(t, "first failure", retry.LastError())

	succeeded, _ := retry.Succeed(retry.Phase().(Sending).Turn, "ok", "a2")
	require.Empty(t, succeeded.LastError())

	failed, _ := retry.Fail(retry.Phase().(Sending).Turn, "second failure")
	require.Equal(t, "second failure", failed.LastError())
}

func TestCancelKeepsCarriedBanner(t *testing.T) {
	s, _, _ := NewState().Submit("one", "u1")
	s, _ = s.Fail(s.Phase().(Sending).Turn, FailureMessage)
	s, _, _ = s.Submit("two", "u2")

	cancelled, ok := s.Cancel()
	require.True(t, ok)
	require.IsType(t, Failed{}, cancelled.Phase())
	require.Equal(t, FailureMessage, cancelled.LastError())
}

func TestDismissWhileSendingKeepsTurn(t *testing.T) {
	s, _, _ := NewState().Submit("one", "u1")
	s, _ = s.Fail(s.Phase().(Sending).Turn, FailureMessage)
	s, _, _ = s.Submit("two", "u2")
	turn := s.Phase().(Sending).Turn

	next, ok := s.Dismiss()
	require.True(t, ok)
	require.True(t, next.Pending())
	require.Empty(t, next.LastError())

	_, ok = next.Succeed(turn, "ok", "a2")
	require.True(t, ok)
}

func TestStaleResultsAreIgnored(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	turn := s.Phase().(Sending).Turn

	cancelled, ok := s.Cancel()
	require.True(t, ok)
	require.IsType(t, Idle{}, cancelled.Phase())

	after, ok := cancelled.Succeed(turn, "late", "a1")
	require.False(t, ok)
	require.Equal(t, 1, after.Len())

	after, ok = cancelled.Fail(turn, FailureMessage)
	require.False(t, ok)
	require.Empty(t, after.LastError())
}

func TestResultForOlderTurnIgnoredAfterResubmit(t *testing.T) {
	s, _, _ := NewState().Submit("one", "u1")
	oldTurn := s.Phase().(Sending).Turn
	s, _ = s.Cancel()
	s, _, _ = s.Submit("two", "u2")

	_, ok := s.Succeed(oldTurn, "late", "a1")
	require.False(t, ok)
	_, ok = s.Succeed(s.Phase().(Sending).Turn, "fresh", "a2")
	require.True(t, ok)
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	_, ok := NewState().Cancel()
	require.False(t, ok)
}

func TestDismissClearsError(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	s, _ = s.Fail(s.Phase().(Sending).Turn, FailureMessage)

	next, ok := s.Dismiss()
	require.True(t, ok)
	require.Empty(t, next.LastError())
	require.Equal(t, 1, next.Len())

	_, ok = next.Dismiss()
	require.False(t, ok)
}

func TestResetFromAnyPhase(t *testing.T) {
	idle := NewState()
	sending, _, _ := idle.Submit("hi", "u1")
	failed, _ := sending.Fail(sending.Phase().(Sending).Turn, FailureMessage)

	for name, s := range map[string]State{"idle": idle, "sending": sending, "failed": failed} {
		t.Run(name, func(t *testing.T) {
			r := s.Reset()
			require.Zero(t, r.Len())
			require.False(t, r.Pending())
			require.Empty(t, r.LastError())
		})
	}
}

func TestResetMakesPendingTurnStale(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	turn := s.Phase().(Sending).Turn
	r := s.Reset()

	s2, _, _ := r.Submit("new", "u2")
	require.NotEqual(t, turn, s2.Phase().(Sending).Turn)

	_, ok := r.Succeed(turn, "late", "a1")
	require.False(t, ok)
}

func TestTurnsAppendInOrder(t *testing.T) {
	s := NewState()
	for i, text := range []string{"a", "b", "c"} {
		var ok bool
		s, _, ok = s.Submit(text, "u"+text)
		require.True(t, ok)
		s, ok = s.Succeed(s.Phase().(Sending).Turn, "reply-"+text, "a"+text)
		require.True(t, ok)
		require.Equal(t, 2*(i+1), s.Len())
	}

	msgs := s.Messages()
	require.Equal(t, "a", msgs[0].Content)
	require.Equal(t, "reply-a", msgs[1].Content)
	require.Equal(t, "c", msgs[4].Content)
	require.Equal(t, "reply-c", msgs[5].Content)
}

func TestTransitionsDoNotAliasHistory(t *testing.T) {
	s, _, _ := NewState().Submit("hi", "u1")
	s, _ = s.Succeed(s.Phase().(Sending).Turn, "yo", "a1")

	branchA, _, _ := s.Submit("A", "ua")
	branchB, _, _ := s.Submit("B", "ub")
	require.Equal(t, "A", branchA.Messages()[2].Content)
	require.Equal(t, "B", branchB.Messages()[2].Content)
}

func TestSnapshot(t *testing.T) {
	snap := NewState().Snapshot()
	require.Equal(t, StatusIdle, snap.Status)
	require.NotNil(t, snap.Messages)

	s, _, _ := NewState().Submit("hi", "u1")
	snap = s.Snapshot()
	require.Equal(t, StatusSending, snap.Status)
	require.True(t, snap.Pending)

	s, _ = s.Fail(s.Phase().(Sending).Turn, FailureMessage)
	snap = s.Snapshot()
	require.Equal(t, StatusError, snap.Status)
	require.Equal(t, FailureMessage, snap.Error)
}
