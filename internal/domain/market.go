package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a two-sided binary market on the CLOB. Outcomes and
// TokenIDs are index-aligned: index 0 is the UP side, index 1 the DOWN side.
type Market struct {
	ID        string
	Question  string
	Slug      string
	Outcomes  [2]string // e.g. ["Up","Down"]
	TokenIDs  [2]string // ERC-1155 token IDs (76-digit strings)
	Volume    float64
	Status    MarketStatus
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SideForToken maps a CLOB asset ID onto the market side it represents.
// Returns ErrNotFound when the token does not belong to this market.
func (m Market) SideForToken(tokenID string) (Side, error) {
	switch tokenID {
	case m.TokenIDs[0]:
		return SideUp, nil
	case m.TokenIDs[1]:
		return SideDown, nil
	default:
		return "", ErrNotFound
	}
}

// TokenForSide is the inverse of SideForToken.
func (m Market) TokenForSide(side Side) string {
	if side == SideUp {
		return m.TokenIDs[0]
	}
	return m.TokenIDs[1]
}
