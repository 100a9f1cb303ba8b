// Package registry owns all live games in the process: code issuance with
// collision avoidance, case-insensitive lookup, and the player-to-game
// reverse index used for O(1) session routing.
//
// The registry is the only process-wide mutable structure; all access goes
// through its RWMutex. Per-game state is guarded by each game's own critical
// section.
package registry

import (
	"log/slog"
	"strings"
	"sync"

	"pitgame/internal/game"
)

// Registry holds every live game keyed by canonical (uppercase) code.
type Registry struct {
	mu         sync.RWMutex
	games      map[string]*game.Game
	playerGame map[string]string
	logger     *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		games:      make(map[string]*game.Game),
		playerGame: make(map[string]string),
		logger:     logger.With("component", "registry"),
	}
}

// CreateGame issues a fresh collision-free code and registers a new game
// built from cfg.
func (r *Registry) CreateGame(cfg game.Config) *game.Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := newGameCode()
	for _, taken := r.games[code]; taken; _, taken = r.games[code] {
		code = newGameCode()
	}

	g := game.New(code, cfg, r.logger)
	r.games[code] = g
	r.logger.Info("game created", "code", code, "games", len(r.games))
	return g
}

// GetGame looks a game up by code, case-insensitively.
func (r *Registry) GetGame(code string) *game.Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.games[strings.ToUpper(code)]
}

// GameForPlayer returns the game a player belongs to, if any.
func (r *Registry) GameForPlayer(playerID string) *game.Game {
	r.mu.RLock()
	code, ok := r.playerGame[playerID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	g := r.games[code]
	r.mu.RUnlock()
	return g
}

// JoinGame adds a player to the game with the given code and records the
// reverse mapping. Returns nil when the code is unknown.
func (r *Registry) JoinGame(code, playerID, displayName string, isGamemaster bool) *game.Game {
	canonical := strings.ToUpper(code)

	r.mu.Lock()
	g, ok := r.games[canonical]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	r.playerGame[playerID] = canonical
	r.mu.Unlock()

	g.AddPlayer(playerID, displayName, isGamemaster)
	return g
}

// LeaveGame removes the player from their game and drops the reverse
// mapping. A game whose last participant leaves is deleted from the
// registry.
func (r *Registry) LeaveGame(playerID string) *game.Game {
	r.mu.Lock()
	code, ok := r.playerGame[playerID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.playerGame, playerID)
	g := r.games[code]
	r.mu.Unlock()

	if g == nil {
		return nil
	}

	g.RemovePlayer(playerID)

	if g.PlayerCount() == 0 {
		r.mu.Lock()
		delete(r.games, code)
		r.mu.Unlock()
		g.Close()
		r.logger.Info("game deleted, last participant left", "code", code)
	}
	return g
}

// GameCount returns the number of live games.
func (r *Registry) GameCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}
