package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushOnlyOnCompletion(t *testing.T) {
	a := NewAggregator()
	a.Append(User, "Hel")
	a.Append(User, "lo ")
	a.Append(User, "world")

	assert.Empty(t, a.Lines(), "no line before the turn completes")
	assert.Equal(t, "Hello world", a.Pending(User))

	added := a.Complete()
	require.Len(t, added, 1)
	assert.Equal(t, User, added[0].Speaker)
	assert.Equal(t, "Hello world", added[0].Text)
	assert.Equal(t, added, a.Lines())
	assert.Empty(t, a.Pending(User))
}

func TestUserLineBeforeAgentLine(t *testing.T) {
	a := NewAggregator()
	a.Append(Agent, "Tell me about ")
	a.Append(User, "I think")
	a.Append(Agent, "yourself.")

	added := a.Complete()
	require.Len(t, added, 2)
	assert.Equal(t, User, added[0].Speaker)
	assert.Equal(t, "I think", added[0].Text)
	assert.Equal(t, Agent, added[1].Speaker)
	assert.Equal(t, "Tell me about yourself.", added[1].Text)
}

func TestEmptyTurnProducesNothing(t *testing.T) {
	a := NewAggregator()
	assert.Empty(t, a.Complete())
	a.Append(User, "   ")
	assert.Empty(t, a.Complete())
	assert.Equal(t, 0, a.Len())
}

func TestLinesAccumulateAcrossTurns(t *testing.T) {
	a := NewAggregator()
	a.Append(Agent, "Hi.")
	a.Complete()
	a.Append(User, "Hello.")
	a.Complete()
	a.Append(Agent, "Let's begin.")
	a.Complete()

	lines := a.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, []Speaker{Agent, User, Agent},
		[]Speaker{lines[0].Speaker, lines[1].Speaker, lines[2].Speaker})
}

func TestIDsUniqueAndOrdered(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < 500; i++ {
		a.Append(User, "x")
		a.Append(Agent, "y")
		a.Complete()
	}
	lines := a.Lines()
	seen := make(map[string]bool, len(lines))
	for i, l := range lines {
		require.False(t, seen[l.ID], "duplicate id %s", l.ID)
		seen[l.ID] = true
		if i > 0 {
			require.Less(t, lines[i-1].ID, l.ID, "ids must sort in creation order")
		}
	}
}

func TestLinesReturnsCopy(t *testing.T) {
	a := NewAggregator()
	a.Append(User, "one")
	a.Complete()
	lines := a.Lines()
	lines[0].Text = "changed"
	assert.Equal(t, "one", a.Lines()[0].Text)
}

func TestUnknownSpeakerIgnored(t *testing.T) {
	a := NewAggregator()
	a.Append(Speaker("narrator"), "ignored")
	assert.Empty(t, a.Complete())
}

func TestFormat(t *testing.T) {
	lines := []Line{
		{Speaker: Agent, Text: "Why this role?"},
		{Speaker: User, Text: "Because I like distributed systems."},
	}
	want := "Interviewer: Why this role?\n\nYou: Because I like distributed systems.\n"
	assert.Equal(t, want, Format(lines))
	assert.Empty(t, Format(nil))
}
