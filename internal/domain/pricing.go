package domain

import "time"

// MarketSnapshot is the per-market input to the side classifier: the
// operator's accumulated fills on each side plus the current best bid per
// side. A nil best bid means no live bid exists for that side right now;
// a present value is used as-is, even if zero.
type MarketSnapshot struct {
	UpQty    float64
	DownQty  float64
	UpCost   float64
	DownCost float64

	UpBestBid   *float64
	DownBestBid *float64
}

// SidePricing is the classifier output: per-side price views plus the
// expensive/cheap labeling. It is a pure projection of the snapshot it was
// computed from and is never mutated after construction.
type SidePricing struct {
	AvgUpPrice   float64
	AvgDownPrice float64

	UpLivePrice   float64
	DownLivePrice float64

	UpIsExpensive bool
	ExpensiveSide Side
	CheapSide     Side

	ExpensiveQty float64
	CheapQty     float64
}

// ClassifySides decides which side of a two-sided market is currently
// expensive and which is cheap.
//
// Each side gets an average fill price (cost/qty, zero when nothing has
// filled) and a live price (best bid when one exists, else the average fill
// price). The comparison uses each side's blended price, the mean of its
// average and live prices, so a momentary bid spike alone does not flip the
// classification. UP wins ties, so an all-zero snapshot classifies UP as
// expensive.
func ClassifySides(snap MarketSnapshot) SidePricing {
	avgUp := avgPrice(snap.UpCost, snap.UpQty)
	avgDown := avgPrice(snap.DownCost, snap.DownQty)

	liveUp := avgUp
	if snap.UpBestBid != nil {
		liveUp = *snap.UpBestBid
	}
	liveDown := avgDown
	if snap.DownBestBid != nil {
		liveDown = *snap.DownBestBid
	}

	blendedUp := (avgUp + liveUp) / 2
	blendedDown := (avgDown + liveDown) / 2

	p := SidePricing{
		AvgUpPrice:    avgUp,
		AvgDownPrice:  avgDown,
		UpLivePrice:   liveUp,
		DownLivePrice: liveDown,
		UpIsExpensive: blendedUp >= blendedDown,
	}

	if p.UpIsExpensive {
		p.ExpensiveSide, p.CheapSide = SideUp, SideDown
		p.ExpensiveQty, p.CheapQty = snap.UpQty, snap.DownQty
	} else {
		p.ExpensiveSide, p.CheapSide = SideDown, SideUp
		p.ExpensiveQty, p.CheapQty = snap.DownQty, snap.UpQty
	}

	return p
}

func avgPrice(cost, qty float64) float64 {
	if qty == 0 {
		return 0
	}
	return cost / qty
}

// PricingRecord is one persisted classification for a market.
type PricingRecord struct {
	ID         string // UUID
	MarketID   string
	Pricing    SidePricing
	Flipped    bool // expensive side changed relative to the previous record
	ComputedAt time.Time
}
