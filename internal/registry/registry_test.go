package registry

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitgame/internal/game"
	"pitgame/pkg/types"
)

func testRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testGameConfig() game.Config {
	return game.Config{
		SpreadTimer:      time.Minute,
		OpenTradingTimer: 2 * time.Minute,
		NoTighterWindow:  10 * time.Second,
		StartingCash:     10_000,
		GamemasterSecret: "hunter2",
	}
}

func TestCreateGameIssuesUniqueCodes(t *testing.T) {
	t.Parallel()
	r := testRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		g := r.CreateGame(testGameConfig())
		code := g.Code()
		assert.False(t, seen[code])
		seen[code] = true

		assert.Len(t, code, codeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, ch),
				"code %q contains %q outside the alphabet", code, ch)
		}
	}
	assert.Equal(t, 100, r.GameCount())
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	g := r.CreateGame(testGameConfig())
	code := g.Code()

	assert.Same(t, g, r.GetGame(code))
	assert.Same(t, g, r.GetGame(strings.ToLower(code)))
	assert.Nil(t, r.GetGame("NOSUCH"))
}

func TestJoinAndLeave(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	g := r.CreateGame(testGameConfig())
	code := g.Code()

	assert.Nil(t, r.JoinGame("NOSUCH", "p1", "Alice", false))

	joined := r.JoinGame(strings.ToLower(code), "p1", "Alice", false)
	require.Same(t, g, joined)
	assert.True(t, g.HasPlayer("p1"))
	assert.Same(t, g, r.GameForPlayer("p1"))

	r.JoinGame(code, "p2", "Bob", false)
	require.Equal(t, 2, g.PlayerCount())

	left := r.LeaveGame("p1")
	require.Same(t, g, left)
	assert.False(t, g.HasPlayer("p1"))
	assert.Nil(t, r.GameForPlayer("p1"))
	assert.Equal(t, 1, r.GameCount(), "game survives while a participant remains")

	assert.Nil(t, r.LeaveGame("p1"), "double leave is a no-op")
}

func TestDeletedGameReleasesTimers(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	g := r.CreateGame(testGameConfig())
	r.JoinGame(g.Code(), "p1", "Alice", false)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.SetTimer(20*time.Millisecond))

	r.LeaveGame("p1")
	require.Equal(t, 0, r.GameCount())

	// The armed timer is cancelled on delete; left running it would end
	// Stage 1 and retire the round.
	time.Sleep(80 * time.Millisecond)
	round := g.CurrentRound()
	require.NotNil(t, round)
	assert.Equal(t, types.StageSpreadQuoting, round.Stage)
}

func TestGameDeletedWhenLastParticipantLeaves(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	g := r.CreateGame(testGameConfig())
	code := g.Code()

	r.JoinGame(code, "gm", "GM", true)
	r.JoinGame(code, "p1", "Alice", false)

	r.LeaveGame("p1")
	assert.Equal(t, 1, r.GameCount())

	r.LeaveGame("gm")
	assert.Equal(t, 0, r.GameCount())
	assert.Nil(t, r.GetGame(code))
}
