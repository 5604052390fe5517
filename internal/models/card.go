// internal/models/card.go
package models

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Deck geometry for the fixed four-player game. Cards are identified by
// rank only; suits are never distinguished on the wire.
const (
	NumRanks     = 13
	CardsPerRank = 4
	DeckSize     = NumRanks * CardsPerRank
)

// Errors returned by multiset operations.
var (
	ErrInvalidRank       = errors.New("card rank outside deck range")
	ErrInsufficientCards = errors.New("not enough cards of that rank")
	ErrEmptyDeck         = errors.New("deck is empty")
)

// Hand is a counted multiset of card ranks. It backs both a bot's hand and
// the shared discard pile. Counts never go negative; a failed remove leaves
// the multiset untouched.
type Hand struct {
	counts [NumRanks]int
	total  int
}

// NewHand returns an empty multiset.
func NewHand() *Hand {
	return &Hand{}
}

// Insert adds n copies of rank to the multiset.
func (h *Hand) Insert(rank, n int) error {
	if rank < 0 || rank >= NumRanks {
		return fmt.Errorf("insert rank %d: %w", rank, ErrInvalidRank)
	}
	if n < 0 {
		return fmt.Errorf("insert count %d must be non-negative", n)
	}
	h.counts[rank] += n
	h.total += n
	return nil
}

// Remove takes n copies of rank out of the multiset. If fewer than n copies
// are held the multiset is not mutated and an error is returned.
func (h *Hand) Remove(rank, n int) error {
	if rank < 0 || rank >= NumRanks {
		return fmt.Errorf("remove rank %d: %w", rank, ErrInvalidRank)
	}
	if n < 0 {
		return fmt.Errorf("remove count %d must be non-negative", n)
	}
	if h.counts[rank] < n {
		return fmt.Errorf("remove %d of rank %d (have %d): %w", n, rank, h.counts[rank], ErrInsufficientCards)
	}
	h.counts[rank] -= n
	h.total -= n
	return nil
}

// Has reports whether the multiset holds at least n copies of rank. Pure
// query; never mutates.
func (h *Hand) Has(rank, n int) bool {
	if rank < 0 || rank >= NumRanks {
		return false
	}
	return h.counts[rank] >= n
}

// Count returns the number of copies of rank currently held.
func (h *Hand) Count(rank int) int {
	if rank < 0 || rank >= NumRanks {
		return 0
	}
	return h.counts[rank]
}

// NumCards returns the total number of cards in the multiset.
func (h *Hand) NumCards() int {
	return h.total
}

// Reset empties the multiset.
func (h *Hand) Reset() {
	h.counts = [NumRanks]int{}
	h.total = 0
}

// InsertList adds every card in a comma-separated card list.
func (h *Hand) InsertList(cardList string) error {
	cards, err := ParseCardList(cardList)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if err := h.Insert(c, 1); err != nil {
			return err
		}
	}
	return nil
}

// RemoveList removes every card in a comma-separated card list. The caller
// is expected to have verified the cards with HasList first; on a partial
// failure the cards removed so far stay removed.
func (h *Hand) RemoveList(cardList string) error {
	cards, err := ParseCardList(cardList)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if err := h.Remove(c, 1); err != nil {
			return err
		}
	}
	return nil
}

// HasList reports whether every card in a comma-separated card list is held,
// counting duplicates.
func (h *Hand) HasList(cardList string) bool {
	cards, err := ParseCardList(cardList)
	if err != nil {
		return false
	}
	var needed [NumRanks]int
	for _, c := range cards {
		needed[c]++
	}
	for rank, n := range needed {
		if n > 0 && !h.Has(rank, n) {
			return false
		}
	}
	return true
}

// String renders the multiset as a comma-separated card list in ascending
// rank order, one entry per copy. An empty multiset renders as "".
func (h *Hand) String() string {
	var sb strings.Builder
	first := true
	for rank := 0; rank < NumRanks; rank++ {
		for i := 0; i < h.counts[rank]; i++ {
			if !first {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Itoa(rank))
			first = false
		}
	}
	return sb.String()
}

// ParseCardList splits a comma-separated card list into ranks, rejecting
// empty lists, non-numeric entries and out-of-range ranks.
func ParseCardList(cardList string) ([]int, error) {
	if cardList == "" {
		return nil, errors.New("empty card list")
	}
	parts := strings.Split(cardList, ",")
	cards := make([]int, 0, len(parts))
	for _, p := range parts {
		c, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("card list entry %q: %w", p, err)
		}
		if c < 0 || c >= NumRanks {
			return nil, fmt.Errorf("card list entry %d: %w", c, ErrInvalidRank)
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// FormatCardList renders ranks as a comma-separated card list.
func FormatCardList(cards []int) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// Deck is a Hand that can refill itself to the full canonical multiset and
// hand out uniformly random cards. The game uses a single Deck value as both
// the deal source and, once drained, the shared discard pile.
type Deck struct {
	Hand
	rng *rand.Rand
}

// NewDeck returns an empty deck drawing randomness from rng.
func NewDeck(rng *rand.Rand) *Deck {
	return &Deck{rng: rng}
}

// Fill resets the deck to the canonical full multiset: CardsPerRank copies
// of every rank.
func (d *Deck) Fill() {
	for rank := 0; rank < NumRanks; rank++ {
		d.counts[rank] = CardsPerRank
	}
	d.total = DeckSize
}

// PullRandom removes and returns one card chosen uniformly at random from
// the remaining multiset.
func (d *Deck) PullRandom() (int, error) {
	if d.total == 0 {
		return -1, ErrEmptyDeck
	}
	pick := d.rng.Intn(d.total)
	for rank := 0; rank < NumRanks; rank++ {
		if pick < d.counts[rank] {
			d.counts[rank]--
			d.total--
			return rank, nil
		}
		pick -= d.counts[rank]
	}
	// Unreachable while counts and total agree.
	return -1, ErrEmptyDeck
}
