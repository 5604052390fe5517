// internal/game/seat.go
package game

import "github.com/amanahuja/codewars-server/internal/models"

// SeatStatus tracks one seat's progress through the turn protocol.
type SeatStatus int

const (
	// StatusInitialized means the seat was offered a game but has not
	// echoed GAME_INITIALIZE yet.
	StatusInitialized SeatStatus = iota
	// StatusAcceptedChallenge means the seat echoed GAME_INITIALIZE and is
	// waiting for the rest of the table.
	StatusAcceptedChallenge
	// StatusWaitingOnChallengeResponse means a move was played and this
	// seat has not yet said whether it calls bullshit.
	StatusWaitingOnChallengeResponse
	// StatusReady means the seat has nothing outstanding.
	StatusReady
)

// String returns a readable name for logging.
func (s SeatStatus) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusAcceptedChallenge:
		return "accepted_challenge"
	case StatusWaitingOnChallengeResponse:
		return "waiting_on_challenge_response"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Seat is one bot's session state inside a single game instance: its hand,
// its turn status and its last challenge response. A Seat is created when
// the instance forms and dies with it.
type Seat struct {
	BotID          int
	Hand           *models.Hand
	Status         SeatStatus
	CalledBullshit bool
}

func newSeat(botID int) *Seat {
	return &Seat{
		BotID:  botID,
		Hand:   models.NewHand(),
		Status: StatusInitialized,
	}
}

// HasNoCardsLeft reports whether the seat has played out its entire hand.
func (s *Seat) HasNoCardsLeft() bool {
	return s.Hand.NumCards() == 0
}
