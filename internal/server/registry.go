// internal/server/registry.go
package server

import "github.com/amanahuja/codewars-server/internal/game"

// NoGame is the game-id sentinel for a bot that is not seated in any game.
const NoGame = 0

// Bot is one registry entry: per-connection bookkeeping that outlives any
// single game. It exists from login until the switch reports a disconnect.
type Bot struct {
	ID     int
	Busy   bool
	GameID int
	Rank   int
	Mode   int // debug=0, live=1; reserved, no handler reads it
}

// botByID returns the registry entry for a bot id, or nil.
func (s *GameServer) botByID(botID int) *Bot {
	for _, b := range s.bots {
		if b.ID == botID {
			return b
		}
	}
	return nil
}

// gameByGID returns the live game with the given id, or nil.
func (s *GameServer) gameByGID(gid int) *game.Manager {
	if gid == NoGame {
		return nil
	}
	for _, g := range s.games {
		if g.GID() == gid {
			return g
		}
	}
	return nil
}

// removeBot drops a registry entry.
func (s *GameServer) removeBot(b *Bot) {
	for i, cur := range s.bots {
		if cur == b {
			s.bots = append(s.bots[:i], s.bots[i+1:]...)
			return
		}
	}
}

// removeGame drops a game instance from the live set.
func (s *GameServer) removeGame(g *game.Manager) {
	for i, cur := range s.games {
		if cur == g {
			s.games = append(s.games[:i], s.games[i+1:]...)
			return
		}
	}
}
