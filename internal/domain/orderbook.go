package domain

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BestBid scans bid levels for the highest price with size. Returns nil when
// no level has size.
func BestBid(bids []PriceLevel) *float64 {
	var best *float64
	for i := range bids {
		if bids[i].Size <= 0 {
			continue
		}
		if best == nil || bids[i].Price > *best {
			p := bids[i].Price
			best = &p
		}
	}
	return best
}
