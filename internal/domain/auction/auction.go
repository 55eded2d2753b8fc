package auction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Auction represents one live or closed item-for-sale cycle. At most one
// auction is OPEN at any time; the record is mutated only by finalization.
type Auction struct {
	ID           uuid.UUID  `json:"id"`
	StartedBy    string     `json:"started_by"`
	StartBid     int64      `json:"start_bid"`
	MinIncrement int64      `json:"min_increment"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndsAt       time.Time  `json:"ends_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	FinalPrice   *int64     `json:"final_price,omitempty"`
	WinnerID     *string    `json:"winner_id,omitempty"`
}

type Status int

const (
	StatusOpen Status = iota
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusEnded:
		return "ENDED"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a stored status string back to a Status.
// Unrecognized values map to ENDED so a corrupt row can never be
// mistaken for the live auction.
func ParseStatus(s string) Status {
	if s == "OPEN" {
		return StatusOpen
	}
	return StatusEnded
}

// IsOpen reports whether the auction is still accepting bids.
func (a *Auction) IsOpen() bool {
	return a != nil && a.Status == StatusOpen
}

// NewAuction creates an OPEN auction starting now.
func NewAuction(startedBy string, startBid, minIncrement int64, endsAt time.Time) *Auction {
	return &Auction{
		ID:           uuid.New(),
		StartedBy:    startedBy,
		StartBid:     startBid,
		MinIncrement: minIncrement,
		Status:       StatusOpen,
		StartedAt:    time.Now().UTC(),
		EndsAt:       endsAt,
	}
}
