// internal/server/server.go

// Package server implements the command dispatcher: the single serialized
// consumer of every inbound command, the bot registry, the matchmaking
// scheduler and the outbound command queue feeding the switch.
package server

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amanahuja/codewars-server/internal/game"
	"github.com/amanahuja/codewars-server/internal/models"
	"github.com/amanahuja/codewars-server/internal/queue"
)

// DefaultReplyTimeoutMs is the advisory deadline attached to move requests
// and turn summaries.
const DefaultReplyTimeoutMs = 10000

// Store is the persistence collaborator. Both calls are synchronous and
// best-effort: failures are logged by the dispatcher, never retried, and do
// not block game progress.
type Store interface {
	LoginBot(ctx context.Context, botID int) (int, error)
	SaveGame(ctx context.Context, winnerID int, seats [game.NumSeats]int, history string) error
}

// HistoryPublisher receives match-history lines for out-of-band storage.
type HistoryPublisher interface {
	PublishHistory(ctx context.Context, gid int, line string) error
}

// GameServer owns the bot registry and the set of live game instances, and
// processes every inbound command to completion before taking the next.
// That total ordering is the whole concurrency-safety story: no handler
// ever runs concurrently with another, so registry and game state need no
// finer-grained locking.
type GameServer struct {
	Inbound  *queue.Queue[models.Command]
	Outbound *queue.Queue[models.CmdPack]

	// ReplyTimeoutMs is forwarded with PLAYCARDS_REQUEST and TURN_SUMMARY.
	ReplyTimeoutMs int

	store   Store
	history HistoryPublisher
	log     logrus.FieldLogger
	rng     *rand.Rand

	bots    []*Bot
	games   []*game.Manager
	nextGID int

	historyQ *queue.Queue[historyLine]
}

// historyLine is one queued match-history record awaiting publication.
type historyLine struct {
	gid  int
	line string
}

// New creates a GameServer. store and history may be nil, in which case
// rank lookups default and history lines stay in memory only.
func New(store Store, history HistoryPublisher, logger logrus.FieldLogger) *GameServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &GameServer{
		Inbound:        queue.New[models.Command](),
		Outbound:       queue.New[models.CmdPack](),
		ReplyTimeoutMs: DefaultReplyTimeoutMs,
		store:          store,
		history:        history,
		log:            logger,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		nextGID:        1,
	}
	if history != nil {
		s.historyQ = queue.New[historyLine]()
		go s.historyPump()
	}
	return s
}

// SetRand replaces the deal randomness source. Test hook; call before Run.
func (s *GameServer) SetRand(rng *rand.Rand) {
	s.rng = rng
}

// Run consumes the inbound queue until it is closed. It is the only
// goroutine allowed to touch the registry or any game instance.
func (s *GameServer) Run() {
	for {
		cmd, ok := s.Inbound.Pop()
		if !ok {
			s.log.Info("inbound queue closed, dispatcher stopping")
			return
		}
		s.dispatch(cmd)
	}
}

// Shutdown closes the queues, stopping the dispatcher, the outbound pump and
// the history pump.
func (s *GameServer) Shutdown() {
	s.Inbound.Close()
	s.Outbound.Close()
	if s.historyQ != nil {
		s.historyQ.Close()
	}
}

// RunChallengeTimer injects a CHALLENGE command into the inbound queue at a
// fixed interval until ctx is cancelled. Routing matchmaking through the
// same queue keeps it serialized with every other mutation.
func (s *GameServer) RunChallengeTimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Inbound.Push(models.Command{Type: models.CmdChallenge, BotID: models.NoBotID})
		}
	}
}

// dispatch routes one command to its handler. Unrecognized types are logged
// and dropped; nothing here is fatal to the server.
func (s *GameServer) dispatch(cmd models.Command) {
	switch cmd.Type {
	case models.CmdLoginInform:
		s.login(cmd)
	case models.CmdGameInitialize:
		s.acceptChallenge(cmd)
	case models.CmdDisconnectBotRemote:
		s.disconnectionBySwitch(cmd)
	case models.CmdChallenge:
		s.challengeEvent()
	case models.CmdTurnReply:
		s.bullshitResponse(cmd)
	case models.CmdServerMessage:
		s.switchMessage(cmd)
	case models.CmdPlayCardsReply:
		s.playcardsResponse(cmd)
	default:
		s.log.WithField("cmd", cmd.Type).Warn("unrecognized command forwarded from switch")
	}
}

// send enqueues one outbound command. The queue is unbounded so this never
// blocks the dispatcher.
func (s *GameServer) send(cmdType, payload string, botID, deadlineMs int) {
	s.Outbound.Push(models.CmdPack{
		Type:               cmdType,
		Payload:            payload,
		TargetBotID:        botID,
		ResponseDeadlineMs: deadlineMs,
	})
}

// login registers a connecting bot. The switch sends LOGIN_INFORM with the
// bot id and a parameter list (e.g. "mode=1,language=null") sourced from
// the switch-local database. Duplicate logins are ignored; the existing
// session is preserved.
func (s *GameServer) login(cmd models.Command) {
	if cmd.BotID == models.NoBotID {
		s.log.Info("invalid LOGIN_INFORM command received")
		return
	}
	if s.botByID(cmd.BotID) != nil {
		s.log.WithField("bot_id", cmd.BotID).Warn("bot was already logged in")
		return
	}

	rank := -1
	if s.store != nil {
		r, err := s.store.LoginBot(context.Background(), cmd.BotID)
		if err != nil {
			s.log.WithError(err).WithField("bot_id", cmd.BotID).Error("rank lookup failed")
		} else {
			rank = r
		}
	}

	b := &Bot{ID: cmd.BotID, Rank: rank}
	if mode := paramValue("mode", cmd.MetaData); mode == "1" {
		b.Mode = 1
	}
	s.bots = append(s.bots, b)
	s.send(models.CmdServerMessage, "GameServer Confirmed Connection", b.ID, 0)
	s.log.WithFields(logrus.Fields{"bot_id": b.ID, "rank": b.Rank}).Info("bot logged in")
}

// acceptChallenge handles a bot's GAME_INITIALIZE echo. Once every seat has
// accepted, the seating order goes out, a fresh deck is dealt, every seat
// gets its hand, and the first seat is asked for a move.
func (s *GameServer) acceptChallenge(cmd models.Command) {
	b := s.botByID(cmd.BotID)
	if cmd.BotID == models.NoBotID || b == nil {
		s.log.WithField("bot_id", cmd.BotID).Error("bot does not exist in registry")
		return
	}
	g := s.gameByGID(b.GameID)
	if g == nil {
		s.log.WithField("bot_id", b.ID).Error("bot is not involved in a challenge")
		return
	}
	if !g.IsWaiting(b.ID) {
		return
	}

	g.AddHistory(fmt.Sprintf("Bot: %d accepted challenge.", b.ID))
	g.SetReady(b.ID)

	if !g.AllBotsReady() {
		s.send(models.CmdServerMessage, "Challenge Accepted!  Waiting for opponents...", b.ID, 0)
		return
	}

	for i := 0; i < g.NumPlayers(); i++ {
		s.send(models.CmdGameOrder, g.SeatingChart(), g.BotIDAt(i), 0)
	}

	g.DealCardsForNewGame()

	for i := 0; i < g.NumPlayers(); i++ {
		s.send(models.CmdCardMessage, g.HandAt(i), g.BotIDAt(i), 0)
	}

	s.send(models.CmdPlayCardsRequest, g.CurrentMoveCard(), g.CurrentBotID(), s.ReplyTimeoutMs)
}

// playcardsResponse handles a turn submission. An out-of-turn or illegal
// move is fatal to the match: the game aborts and the offender is told to
// disconnect.
func (s *GameServer) playcardsResponse(cmd models.Command) {
	b := s.botByID(cmd.BotID)
	if b == nil {
		s.log.WithField("bot_id", cmd.BotID).Error("PLAYCARDS_REPLY from bot that does not exist on the server")
		return
	}
	g := s.gameByGID(b.GameID)
	if g == nil {
		s.log.WithField("bot_id", b.ID).Error("PLAYCARDS_REPLY from bot not involved in a game")
		return
	}

	metaData := strings.SplitN(cmd.MetaData, ":", 2)
	if len(metaData) != 2 {
		s.abortGame(g, b, fmt.Sprintf("The bot %d sent an invalid PLAYCARDS_REPLY cmd.", b.ID))
		s.log.WithField("bot_id", b.ID).Error("invalid PLAYCARDS_REPLY metadata")
		return
	}
	discardedCards := metaData[1]

	if !g.IsValidMove(b.ID, discardedCards) {
		s.abortGame(g, b, "A bot attempted to make a move which they did not have the cards for")
		s.log.WithFields(logrus.Fields{"bot_id": b.ID, "cards": discardedCards}).
			Error("bot attempted a move with cards it did not have, game cancelled")
		return
	}
	if !g.SetLastPlayerMove(b.ID, discardedCards) {
		s.abortGame(g, b, fmt.Sprintf("The bot %d ended up playing out of turn.", b.ID))
		s.log.WithField("bot_id", b.ID).Error("bot attempted a move out of turn")
		return
	}

	g.AddHistory(fmt.Sprintf("Bot <%d> played cards : %s expected a %s", b.ID, discardedCards, g.CurrentMoveCard()))

	for i := 0; i < g.NumPlayers(); i++ {
		if g.BotIDAt(i) != b.ID {
			s.send(models.CmdTurnSummary, g.TurnSummary(), g.BotIDAt(i), s.ReplyTimeoutMs)
		}
	}
	g.SetWaitingForBullshit()
}

// bullshitResponse handles one seat's challenge reply. When the last reply
// lands, the challenge (if any) is resolved, a winner check runs, and the
// turn advances. A malformed reply is logged and dropped without mutation.
func (s *GameServer) bullshitResponse(cmd models.Command) {
	b := s.botByID(cmd.BotID)
	if b == nil {
		s.log.WithField("bot_id", cmd.BotID).Error("TURN_REPLY from bot that does not exist on the server")
		return
	}
	g := s.gameByGID(b.GameID)
	if g == nil {
		s.log.WithField("bot_id", b.ID).Error("TURN_REPLY from bot not involved in a game")
		return
	}

	metaData := strings.SplitN(cmd.MetaData, ":", 2)
	if len(metaData) != 2 {
		s.log.WithFields(logrus.Fields{"bot_id": b.ID, "metadata": cmd.MetaData}).
			Warn("malformed TURN_REPLY dropped")
		return
	}
	g.SetChallengeResponse(b.ID, metaData[1] == "bullshit")

	if !g.AllBotsHandledTurn() {
		return
	}

	if g.BullshitCalled() {
		summary := g.BullshitCallSummary()
		for i := 0; i < g.NumPlayers(); i++ {
			s.send(models.CmdBullshitResult, summary, g.BotIDAt(i), 0)
		}
		pileOfCards := g.ProcessBullshit()
		s.send(models.CmdCardMessage, pileOfCards, g.BullshitLoser(), 0)
	}

	if g.HasWinner() {
		g.AddHistory(fmt.Sprintf("A Winner was found for game <%d> it was bot <%d>", g.GID(), g.WinnerID()))
		for i := 0; i < g.NumPlayers(); i++ {
			s.send(models.CmdGameWinner, fmt.Sprintf("%d", g.WinnerID()), g.BotIDAt(i), 0)
		}
		s.saveGame(g)
		s.endGame(g)
		return
	}

	g.AdvanceTurn()
	s.send(models.CmdPlayCardsRequest, g.CurrentMoveCard(), g.CurrentBotID(), s.ReplyTimeoutMs)
}

// saveGame persists the match outcome. Best-effort: failures are logged and
// the cleanup proceeds regardless.
func (s *GameServer) saveGame(g *game.Manager) {
	if s.store == nil {
		return
	}
	var seats [game.NumSeats]int
	for i := 0; i < g.NumPlayers(); i++ {
		seats[i] = g.BotIDAt(i)
	}
	if err := s.store.SaveGame(context.Background(), g.WinnerID(), seats, g.History()); err != nil {
		s.log.WithError(err).WithField("game_id", g.GID()).Error("failed to save game outcome")
	}
}

// endGame releases every seated bot and discards the instance.
func (s *GameServer) endGame(g *game.Manager) {
	for i := 0; i < g.NumPlayers(); i++ {
		if b := s.botByID(g.BotIDAt(i)); b != nil {
			b.Busy = false
			b.GameID = NoGame
		}
	}
	s.removeGame(g)
}

// abortGame hard-terminates a match after a protocol violation. Every seat
// gets GAME_ABORT exactly once, the offender's peers get a human-readable
// notice, the offender is told to disconnect, and all seats are released.
// The offender's registry entry is kept until the switch reports the
// disconnect.
func (s *GameServer) abortGame(g *game.Manager, offender *Bot, reason string) {
	for i := 0; i < g.NumPlayers(); i++ {
		id := g.BotIDAt(i)
		s.send(models.CmdGameAbort, "", id, 0)
		if id != offender.ID {
			s.send(models.CmdServerMessage, "Opponent disconnected or made an invalid move!", id, 0)
		}
	}
	s.send(models.CmdDisconnectBotRemote, reason, offender.ID, 0)
	s.endGame(g)
}

// challengeEvent runs one matchmaking cycle: if at least four idle bots are
// registered, the four most recently added form a new game and each is sent
// GAME_INITIALIZE. Fewer than four idle bots is not an error.
func (s *GameServer) challengeEvent() {
	if !s.hasBotsAvailableForGame() {
		return
	}

	botIDs := s.selectBotsForChallenge()
	gid := s.nextGID
	s.nextGID++

	g := game.NewManager(gid, botIDs, s.rng, s.log)
	if s.history != nil {
		g.HistoryFn = s.publishHistory
	}
	s.games = append(s.games, g)
	g.AddHistory("Challenge started")

	for i := 0; i < g.NumPlayers(); i++ {
		botID := g.BotIDAt(i)
		b := s.botByID(botID)
		b.GameID = gid
		b.Busy = true
		s.send(models.CmdGameInitialize, "New game request from server", botID, 0)
	}
}

// hasBotsAvailableForGame reports whether a full table of idle bots exists.
func (s *GameServer) hasBotsAvailableForGame() bool {
	numAvailable := 0
	for _, b := range s.bots {
		if !b.Busy {
			numAvailable++
		}
	}
	return numAvailable >= game.NumSeats
}

// selectBotsForChallenge picks the four idle bots, newest registrations
// first. Seating order equals selection order.
func (s *GameServer) selectBotsForChallenge() []int {
	botIDs := make([]int, 0, game.NumSeats)
	for i := len(s.bots) - 1; i >= 0; i-- {
		if !s.bots[i].Busy {
			botIDs = append(botIDs, s.bots[i].ID)
			if len(botIDs) == game.NumSeats {
				break
			}
		}
	}
	return botIDs
}

// switchMessage logs a pass-through message originating from the switch.
func (s *GameServer) switchMessage(cmd models.Command) {
	s.log.Warn(cmd.MetaData)
}

// disconnectionBySwitch removes a bot the switch reports as gone. The
// switch is authoritative; a stale id is logged and dropped.
func (s *GameServer) disconnectionBySwitch(cmd models.Command) {
	b := s.botByID(cmd.BotID)
	if b == nil {
		s.log.WithField("bot_id", cmd.BotID).Warn("invalid disconnect command received from switch")
		return
	}
	s.disconnect(b)
}

// disconnect removes a bot from the server entirely. If it sat in a live
// game the remaining seats are notified, released, and the instance is
// discarded; the game is never resumed.
func (s *GameServer) disconnect(b *Bot) {
	if b.Busy {
		if g := s.gameByGID(b.GameID); g != nil {
			for i := 0; i < g.NumPlayers(); i++ {
				id := g.BotIDAt(i)
				if id != b.ID {
					s.send(models.CmdGameAbort, "", id, 0)
					s.send(models.CmdServerMessage, "Opponent disconnected or made an invalid move!", id, 0)
				}
			}
			s.endGame(g)
		}
	}
	s.removeBot(b)
	s.log.WithField("bot_id", b.ID).Info("bot has been removed from registry")
}

// publishHistory hands one history line to the pump. The queue is unbounded
// so the dispatcher never blocks on a slow publisher.
func (s *GameServer) publishHistory(gid int, line string) {
	s.historyQ.Push(historyLine{gid: gid, line: line})
}

// historyPump publishes queued history lines one at a time, preserving the
// order they were appended in. Runs until Shutdown closes the queue.
func (s *GameServer) historyPump() {
	for {
		h, ok := s.historyQ.Pop()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.history.PublishHistory(ctx, h.gid, h.line); err != nil {
			s.log.WithError(err).WithField("game_id", h.gid).Error("failed publishing history line")
		}
		cancel()
	}
}

// paramValue extracts a value from a "k1=v1,k2=v2" parameter list, or ""
// when the key is absent.
func paramValue(name, params string) string {
	for _, part := range strings.Split(params, ",") {
		if k, v, ok := strings.Cut(part, "="); ok && k == name {
			return v
		}
	}
	return ""
}
