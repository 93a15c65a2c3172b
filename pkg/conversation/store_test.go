package conversation_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/config"
	"github.com/xhad/becabot/pkg/conversation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) (*conversation.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, err := conversation.Open(config.ConversationConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "chat.db"),
	}, nil, conversation.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func contents(turns []models.ConversationTurn) []string {
	var out []string
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	_, err := s.AppendTurn(ctx, "A", models.RoleUser, "hola")
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, s.AppendExchange(ctx, "A", "¿qué becas hay?", "De acuerdo al sistema de becas UTPL..."))
	turn, err := s.AppendTurn(ctx, "A", models.RoleAssistant, "algo más")
	require.NoError(t, err)
	assert.NotZero(t, turn.ID)

	history, err := s.History(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"hola", "¿qué becas hay?", "De acuerdo al sistema de becas UTPL...", "algo más"}, contents(history))
	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, models.RoleAssistant, history[2].Role)
	assert.Equal(t, time.UTC, history[0].CreatedAt.Location())

	other, err := s.History(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAppendTurn_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.AppendTurn(ctx, "A", models.Role("system"), "x")
	assert.ErrorIs(t, err, conversation.ErrInvalidRole)

	_, err = s.AppendTurn(ctx, " ", models.RoleUser, "x")
	assert.ErrorIs(t, err, conversation.ErrEmptySession)

	assert.ErrorIs(t, s.AppendExchange(ctx, "", "q", "a"), conversation.ErrEmptySession)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Turns)
}

func TestClear_IsolatesSessions(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.AppendTurn(ctx, "A", models.RoleUser, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, s.AppendExchange(ctx, "B", "b0", "b1"))

	deleted, err := s.Clear(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, err := s.History(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"b0", "b1"}, contents(remaining))

	deleted, err = s.Clear(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSweepInactive(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	require.NoError(t, s.AppendExchange(ctx, "old", "q", "a"))
	clock.Advance(30 * time.Minute)
	require.NoError(t, s.AppendExchange(ctx, "mixed", "q1", "a1"))
	clock.Advance(3 * time.Hour)
	_, err := s.AppendTurn(ctx, "mixed", models.RoleUser, "q2")
	require.NoError(t, err)
	require.NoError(t, s.AppendExchange(ctx, "fresh", "q", "a"))

	cutoff := clock.Now().Add(-2 * time.Hour)

	dry, err := s.SweepInactive(ctx, cutoff, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	require.Len(t, dry.Sessions, 1)
	assert.Equal(t, "old", dry.Sessions[0].SessionKey)
	assert.Equal(t, int64(2), dry.Sessions[0].Turns)
	assert.True(t, dry.Sessions[0].LastTurnAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.Turns)
	assert.Equal(t, int64(3), st.Sessions)

	res, err := s.SweepInactive(ctx, cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SessionsDeleted)
	assert.Equal(t, int64(2), res.TurnsDeleted)

	old, err := s.History(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, old)

	mixed, err := s.History(ctx, "mixed")
	require.NoError(t, err)
	assert.Len(t, mixed, 3)

	// a turn exactly at the cutoff keeps the session
	res, err = s.SweepInactive(ctx, clock.Now(), false)
	require.NoError(t, err)
	assert.Zero(t, res.SessionsDeleted)
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	var wg sync.WaitGroup
	for _, session := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				assert.NoError(t, s.AppendExchange(ctx, session, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
			}
		}(session)
	}
	wg.Wait()

	for _, session := range []string{"A", "B", "C"} {
		history, err := s.History(ctx, session)
		require.NoError(t, err)
		require.Len(t, history, 10)
		for i := 0; i < 5; i++ {
			assert.Equal(t, fmt.Sprintf("q%d", i), history[2*i].Content)
			assert.Equal(t, fmt.Sprintf("a%d", i), history[2*i+1].Content)
		}
	}
}
