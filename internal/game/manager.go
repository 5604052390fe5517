// internal/game/manager.go
package game

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amanahuja/codewars-server/internal/models"
)

// NumSeats is the fixed table size; every game instance seats exactly four bots.
const NumSeats = 4

// Status tracks the lifecycle of a game instance.
type Status int

const (
	// StatusWaitingToStart means not every seat has accepted the challenge.
	StatusWaitingToStart Status = iota
	// StatusGameRunning means a move is awaited from the current seat.
	StatusGameRunning
	// StatusWaitingOnChallenge means a move was played and challenge
	// responses are being collected.
	StatusWaitingOnChallenge
)

// String returns a readable name for logging.
func (s Status) String() string {
	switch s {
	case StatusWaitingToStart:
		return "waiting_to_start"
	case StatusGameRunning:
		return "game_running"
	case StatusWaitingOnChallenge:
		return "waiting_on_challenge"
	default:
		return "unknown"
	}
}

// NoWinner is the winner-id sentinel while the game is still undecided.
const NoWinner = -1

// HistoryFunc receives every line appended to a game's match history, in
// order. It runs on the dispatcher goroutine and must not block.
type HistoryFunc func(gid int, line string)

// Manager owns the full state of one four-bot match: the seats in turn
// order, the shared discard pile, the turn pointer and the match history.
// It is mutated only from the dispatcher goroutine, so it carries no lock.
type Manager struct {
	gid   int
	seats [NumSeats]*Seat
	pile  *models.Deck

	expectedRank int
	position     int
	status       Status
	winnerID     int

	// Last claimed move, kept until every seat has answered the challenge.
	lastCount int
	lastCards []int

	history   []string
	HistoryFn HistoryFunc

	log logrus.FieldLogger
}

// NewManager creates a game instance for the given seating order. The game
// id is assigned by the caller's sequence; rng drives the deal and may be
// nil for a time-seeded source.
func NewManager(gid int, botIDs []int, rng *rand.Rand, logger logrus.FieldLogger) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		gid:      gid,
		pile:     models.NewDeck(rng),
		status:   StatusWaitingToStart,
		winnerID: NoWinner,
		log:      logger.WithField("game_id", gid),
	}
	for i, id := range botIDs {
		m.seats[i] = newSeat(id)
	}
	return m
}

// GID returns the instance's process-wide numeric id.
func (m *Manager) GID() int { return m.gid }

// NumPlayers returns the number of seats at the table.
func (m *Manager) NumPlayers() int { return len(m.seats) }

// Status returns the game's lifecycle status.
func (m *Manager) Status() Status { return m.status }

// BotIDAt returns the bot id seated at the given position.
func (m *Manager) BotIDAt(pos int) int { return m.seats[pos].BotID }

// CurrentBotID returns the bot id of the seat whose turn it is.
func (m *Manager) CurrentBotID() int { return m.seats[m.position].BotID }

// ExpectedRank returns the rank the current move must claim.
func (m *Manager) ExpectedRank() int { return m.expectedRank }

// CurrentMoveCard returns the expected rank as its wire representation.
func (m *Manager) CurrentMoveCard() string { return strconv.Itoa(m.expectedRank) }

// PileSize returns the number of cards in the shared discard pile.
func (m *Manager) PileSize() int { return m.pile.NumCards() }

// WinnerID returns the winner's bot id, or NoWinner.
func (m *Manager) WinnerID() int { return m.winnerID }

// AddHistory appends a line to the match history and forwards it to the
// history hook if one is attached.
func (m *Manager) AddHistory(line string) {
	m.history = append(m.history, line)
	m.log.Info(line)
	if m.HistoryFn != nil {
		m.HistoryFn(m.gid, line)
	}
}

// History returns the full match history, one line per entry.
func (m *Manager) History() string {
	if len(m.history) == 0 {
		return ""
	}
	return strings.Join(m.history, "\n") + "\n"
}

// IsWaiting reports whether the given bot still owes its GAME_INITIALIZE echo.
func (m *Manager) IsWaiting(botID int) bool {
	for _, s := range m.seats {
		if s.BotID == botID {
			return s.Status == StatusInitialized
		}
	}
	return false
}

// SetReady records that a bot accepted the challenge.
func (m *Manager) SetReady(botID int) {
	for _, s := range m.seats {
		if s.BotID == botID {
			s.Status = StatusAcceptedChallenge
		}
	}
}

// AllBotsReady reports whether every seat has accepted the challenge.
func (m *Manager) AllBotsReady() bool {
	for _, s := range m.seats {
		if s.Status != StatusAcceptedChallenge {
			return false
		}
	}
	return true
}

// DealCardsForNewGame refills the deck and deals it out round-robin from
// seat 0 until empty, then resets the turn state: seat 0 to move, rank 0
// expected, no winner, every seat ready, game running. With a 52-card deck
// and four seats every hand ends up with exactly 13 cards.
func (m *Manager) DealCardsForNewGame() {
	pos := 0
	m.pile.Fill()
	for m.pile.NumCards() > 0 {
		card, err := m.pile.PullRandom()
		if err != nil {
			m.log.WithError(err).Error("failed to pull card while dealing")
			break
		}
		if err := m.seats[pos].Hand.Insert(card, 1); err != nil {
			m.log.WithError(err).Error("failed to deal card")
		}
		pos = (pos + 1) % m.NumPlayers()
	}

	m.expectedRank = 0
	m.position = 0
	m.status = StatusGameRunning
	m.winnerID = NoWinner
	for _, s := range m.seats {
		s.Status = StatusReady
	}
}

// HandAt returns the full hand at the given position as a card list and
// records the deal in the match history.
func (m *Manager) HandAt(pos int) string {
	hand := m.seats[pos].Hand.String()
	m.AddHistory(fmt.Sprintf("Dealt hand %s to bot %d", hand, m.seats[pos].BotID))
	return hand
}

// ContainsValidCardSet reports whether a card list parses into at least one
// legal rank.
func (m *Manager) ContainsValidCardSet(cardList string) bool {
	_, err := models.ParseCardList(cardList)
	return err == nil
}

// IsValidMove reports whether the named bot actually holds every card in
// the submitted list. Pure query; no mutation.
func (m *Manager) IsValidMove(botID int, cardList string) bool {
	if !m.ContainsValidCardSet(cardList) {
		return false
	}
	for _, s := range m.seats {
		if s.BotID == botID {
			return s.Hand.HasList(cardList)
		}
	}
	return false
}

// SetLastPlayerMove applies a turn submission: the played cards move from
// the submitter's hand to the discard pile and the claim is recorded. Every
// other seat is put on WaitingOnChallengeResponse with its last response
// cleared; the submitter goes back to Ready with its response cleared.
// Returns false without mutating anything if the bot is not the seat whose
// turn it is. The caller must have validated the cards with IsValidMove.
func (m *Manager) SetLastPlayerMove(botID int, cardList string) bool {
	if botID != m.seats[m.position].BotID {
		return false
	}

	cards, err := models.ParseCardList(cardList)
	if err != nil {
		m.log.WithError(err).Error("card list failed to parse after validation")
		return false
	}
	m.lastCards = cards
	m.lastCount = len(cards)

	for _, c := range cards {
		if err := m.pile.Insert(c, 1); err != nil {
			m.log.WithError(err).Error("failed to add played card to pile")
		}
	}
	if err := m.seats[m.position].Hand.RemoveList(cardList); err != nil {
		m.log.WithError(err).Error("failed to remove played cards from a hand that validated")
	}

	for _, s := range m.seats {
		if s.BotID != botID {
			s.Status = StatusWaitingOnChallengeResponse
			s.CalledBullshit = false
		} else {
			s.Status = StatusReady
			s.CalledBullshit = false
		}
	}
	return true
}

// TurnSummary formats the last move for broadcast to the non-submitting
// seats: <submitterBotID>:<expectedRank>:<claimedCount>.
func (m *Manager) TurnSummary() string {
	return fmt.Sprintf("%d:%d:%d", m.seats[m.position].BotID, m.expectedRank, m.lastCount)
}

// SetWaitingForBullshit marks the game as collecting challenge responses.
func (m *Manager) SetWaitingForBullshit() {
	m.status = StatusWaitingOnChallenge
}

// SetChallengeResponse records one seat's bullshit call (or pass) and
// returns that seat to Ready.
func (m *Manager) SetChallengeResponse(botID int, called bool) {
	for _, s := range m.seats {
		if s.BotID == botID {
			s.CalledBullshit = called
			s.Status = StatusReady
		}
	}
}

// AllBotsHandledTurn reports whether every seat is Ready again. Once they
// are, the game is back in the running state.
func (m *Manager) AllBotsHandledTurn() bool {
	for _, s := range m.seats {
		if s.Status != StatusReady {
			return false
		}
	}
	m.status = StatusGameRunning
	return true
}

// BullshitCalled reports whether any seat challenged the last move.
func (m *Manager) BullshitCalled() bool {
	for _, s := range m.seats {
		if s.CalledBullshit {
			return true
		}
	}
	return false
}

// challengerID returns the bot credited with the call: scanning forward
// from the seat after the submitter, wrapping through seat 0, the first
// seat whose response is true. Returns NoWinner if nobody called. The
// submitter can never match because its response is cleared on submission.
func (m *Manager) challengerID() int {
	n := m.NumPlayers()
	for i := 1; i < n; i++ {
		idx := (m.position + i) % n
		if m.seats[idx].CalledBullshit {
			return m.seats[idx].BotID
		}
	}
	return NoWinner
}

// wasLie reports whether the last claim was false: any actually-played card
// differing from the expected rank makes the whole claim a lie.
func (m *Manager) wasLie() bool {
	for _, c := range m.lastCards {
		if c != m.expectedRank {
			return true
		}
	}
	return false
}

// BullshitLoser returns the bot that takes the pile: the submitter if the
// claim was a lie, otherwise the challenger. False accusations are punished.
func (m *Manager) BullshitLoser() int {
	if m.wasLie() {
		return m.seats[m.position].BotID
	}
	return m.challengerID()
}

// BullshitCallSummary formats the challenge result for broadcast:
// <challengerBotID>:<true|false>:<actual cards played>.
func (m *Manager) BullshitCallSummary() string {
	return fmt.Sprintf("%d:%t:%s", m.challengerID(), m.wasLie(), models.FormatCardList(m.lastCards))
}

// ProcessBullshit transfers the entire discard pile to the loser's hand,
// resets the pile and returns the transferred cards as a card list so the
// dispatcher can forward them to the losing bot.
func (m *Manager) ProcessBullshit() string {
	loserID := m.BullshitLoser()
	cardList := m.pile.String()
	m.pile.Reset()

	idx := 0
	for i, s := range m.seats {
		if s.BotID == loserID {
			idx = i
		}
	}

	m.AddHistory(fmt.Sprintf("Bot <%d> received the cards %s due to a bullshit call", loserID, cardList))
	if cardList != "" {
		if err := m.seats[idx].Hand.InsertList(cardList); err != nil {
			m.log.WithError(err).Error("failed to hand pile to bullshit loser")
		}
	}
	return cardList
}

// HasWinner scans the seats in order and declares the first empty hand the
// winner. Returns true and records the winner's id if one is found.
func (m *Manager) HasWinner() bool {
	for _, s := range m.seats {
		if s.HasNoCardsLeft() {
			m.winnerID = s.BotID
			return true
		}
	}
	return false
}

// AdvanceTurn moves to the next seat and the next expected rank, both
// cycling independently.
func (m *Manager) AdvanceTurn() {
	m.expectedRank = (m.expectedRank + 1) % models.NumRanks
	m.position = (m.position + 1) % m.NumPlayers()
}

// SeatingChart formats the turn order as a comma-separated list of bot ids.
func (m *Manager) SeatingChart() string {
	ids := make([]string, m.NumPlayers())
	for i, s := range m.seats {
		ids[i] = strconv.Itoa(s.BotID)
	}
	return strings.Join(ids, ",")
}
