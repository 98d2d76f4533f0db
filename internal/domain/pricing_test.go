package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fp(v float64) *float64 { return &v }

func TestClassifySides_EmptySnapshotDefaultsToUp(t *testing.T) {
	p := ClassifySides(MarketSnapshot{})

	assert.True(t, p.UpIsExpensive)
	assert.Equal(t, SideUp, p.ExpensiveSide)
	assert.Equal(t, SideDown, p.CheapSide)
	assert.Zero(t, p.AvgUpPrice)
	assert.Zero(t, p.AvgDownPrice)
}

func TestClassifySides_BlendedComparison(t *testing.T) {
	snap := MarketSnapshot{
		UpQty: 10, UpCost: 60, UpBestBid: fp(7),
		DownQty: 10, DownCost: 40, DownBestBid: fp(3),
	}

	p := ClassifySides(snap)

	assert.InDelta(t, 6.0, p.AvgUpPrice, 1e-9)
	assert.InDelta(t, 4.0, p.AvgDownPrice, 1e-9)
	assert.InDelta(t, 7.0, p.UpLivePrice, 1e-9)
	assert.InDelta(t, 3.0, p.DownLivePrice, 1e-9)
	assert.True(t, p.UpIsExpensive)
	assert.Equal(t, SideUp, p.ExpensiveSide)
	assert.InDelta(t, 10.0, p.ExpensiveQty, 1e-9)
	assert.InDelta(t, 10.0, p.CheapQty, 1e-9)
}

func TestClassifySides_SwappedInputsFlipResult(t *testing.T) {
	snap := MarketSnapshot{
		UpQty: 10, UpCost: 40, UpBestBid: fp(3),
		DownQty: 10, DownCost: 60, DownBestBid: fp(7),
	}

	p := ClassifySides(snap)

	assert.False(t, p.UpIsExpensive)
	assert.Equal(t, SideDown, p.ExpensiveSide)
	assert.Equal(t, SideUp, p.CheapSide)
}

func TestClassifySides_MissingBidFallsBackToAverage(t *testing.T) {
	snap := MarketSnapshot{
		UpQty: 4, UpCost: 2.4, // avg 0.60, no live bid
		DownQty: 5, DownCost: 1.5, DownBestBid: fp(0.30),
	}

	p := ClassifySides(snap)

	assert.InDelta(t, 0.60, p.UpLivePrice, 1e-9)
	assert.InDelta(t, 0.30, p.DownLivePrice, 1e-9)
	assert.True(t, p.UpIsExpensive)
}

func TestClassifySides_PresentZeroBidIsUsed(t *testing.T) {
	// A quoted zero bid is real information, unlike a missing one.
	snap := MarketSnapshot{
		UpQty: 10, UpCost: 6, UpBestBid: fp(0),
		DownQty: 10, DownCost: 6,
	}

	p := ClassifySides(snap)

	assert.InDelta(t, 0.0, p.UpLivePrice, 1e-9)
	assert.InDelta(t, 0.60, p.DownLivePrice, 1e-9)
	assert.Equal(t, SideDown, p.ExpensiveSide)
}

func TestClassifySides_TieGoesToUp(t *testing.T) {
	snap := MarketSnapshot{
		UpQty: 10, UpCost: 50,
		DownQty: 20, DownCost: 100,
	}

	p := ClassifySides(snap)

	assert.True(t, p.UpIsExpensive)
	assert.InDelta(t, 10.0, p.ExpensiveQty, 1e-9)
	assert.InDelta(t, 20.0, p.CheapQty, 1e-9)
}

func TestClassifySides_SidesAlwaysComplementary(t *testing.T) {
	snaps := []MarketSnapshot{
		{},
		{UpQty: 1, UpCost: 0.5},
		{DownQty: 1, DownCost: 0.5},
		{UpQty: 3, UpCost: 1.2, DownQty: 7, DownCost: 4.9, UpBestBid: fp(0.41), DownBestBid: fp(0.62)},
	}

	for _, snap := range snaps {
		p := ClassifySides(snap)
		assert.NotEqual(t, p.ExpensiveSide, p.CheapSide)
		assert.Equal(t, p.ExpensiveSide.Opposite(), p.CheapSide)
	}
}

func TestClassifySides_PureProjection(t *testing.T) {
	snap := MarketSnapshot{
		UpQty: 10, UpCost: 60, UpBestBid: fp(7),
		DownQty: 10, DownCost: 40, DownBestBid: fp(3),
	}

	assert.Equal(t, ClassifySides(snap), ClassifySides(snap))
}

func TestSideTotals_AddAndSnapshot(t *testing.T) {
	var totals SideTotals
	totals.Add(Fill{Side: SideUp, Qty: 3, Cost: 1.8})
	totals.Add(Fill{Side: SideUp, Qty: 2, Cost: 1.0})
	totals.Add(Fill{Side: SideDown, Qty: 4, Cost: 1.2})

	assert.InDelta(t, 5.0, totals.UpQty, 1e-9)
	assert.InDelta(t, 2.8, totals.UpCost, 1e-9)
	assert.InDelta(t, 4.0, totals.DownQty, 1e-9)

	snap := totals.Snapshot(fp(0.55), nil)
	assert.Equal(t, fp(0.55), snap.UpBestBid)
	assert.Nil(t, snap.DownBestBid)
	assert.InDelta(t, 5.0, snap.UpQty, 1e-9)
}

func TestMarket_SideForToken(t *testing.T) {
	m := Market{TokenIDs: [2]string{"111", "222"}}

	side, err := m.SideForToken("111")
	assert.NoError(t, err)
	assert.Equal(t, SideUp, side)

	side, err = m.SideForToken("222")
	assert.NoError(t, err)
	assert.Equal(t, SideDown, side)

	_, err = m.SideForToken("333")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBestBid_PicksHighestNonEmptyLevel(t *testing.T) {
	bids := []PriceLevel{
		{Price: 0.40, Size: 100},
		{Price: 0.55, Size: 0},
		{Price: 0.52, Size: 25},
	}

	best := BestBid(bids)
	assert.NotNil(t, best)
	assert.InDelta(t, 0.52, *best, 1e-9)

	assert.Nil(t, BestBid(nil))
	assert.Nil(t, BestBid([]PriceLevel{{Price: 0.5, Size: 0}}))
}
