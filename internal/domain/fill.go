package domain

import "time"

// Fill is one execution against the operator's account on a market side.
type Fill struct {
	ID        int64
	MarketID  string
	Side      Side
	TradeID   string // CLOB trade identifier, unique per fill
	Price     float64
	Qty       float64
	Cost      float64 // price * qty as reported by the venue
	TxHash    string
	Timestamp time.Time
}

// SideTotals is the per-market fill aggregate: accumulated quantity and cost
// on each side.
type SideTotals struct {
	MarketID string
	UpQty    float64
	UpCost   float64
	DownQty  float64
	DownCost float64
}

// Snapshot combines the totals with the current best bids into the
// classifier input. Either bid may be nil when no live bid exists.
func (t SideTotals) Snapshot(upBestBid, downBestBid *float64) MarketSnapshot {
	return MarketSnapshot{
		UpQty:       t.UpQty,
		DownQty:     t.DownQty,
		UpCost:      t.UpCost,
		DownCost:    t.DownCost,
		UpBestBid:   upBestBid,
		DownBestBid: downBestBid,
	}
}

// Add folds a fill into the totals.
func (t *SideTotals) Add(f Fill) {
	if f.Side == SideUp {
		t.UpQty += f.Qty
		t.UpCost += f.Cost
	} else {
		t.DownQty += f.Qty
		t.DownCost += f.Cost
	}
}
