package auction

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Bid is an immutable, append-only record of one user's offer.
// Ranking among bids is (amount desc, created_at asc); that ordering
// is the current standing, not arrival order at the service.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBid creates a bid stamped with the current time.
func NewBid(auctionID uuid.UUID, userID string, amount int64) *Bid {
	return &Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

// RankBids sorts bids in place into standing order: amount descending,
// ties broken by creation time ascending (earlier bid wins the tie).
func RankBids(bids []*Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
}

// Highest returns the top-ranked bid, or nil if there are none.
// The input must already be in standing order.
func Highest(bids []*Bid) *Bid {
	if len(bids) == 0 {
		return nil
	}
	return bids[0]
}
