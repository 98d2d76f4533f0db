package clob

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/sidepricer/internal/domain"
)

func TestFlexBool_AcceptsBoolAndString(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`true`, true},
		{`false`, false},
		{`"true"`, true},
		{`"TRUE"`, true},
		{`"false"`, false},
		{`"1"`, true},
		{`"0"`, false},
	}

	for _, tc := range cases {
		var f flexBool
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &f), "input %s", tc.raw)
		assert.Equal(t, tc.want, bool(f), "input %s", tc.raw)
	}
}

func TestAPIMarket_ToDomainMarket(t *testing.T) {
	m := APIMarket{
		ConditionID: "0xcond",
		Question:    "Will BTC go up this hour?",
		Slug:        "btc-up-hourly",
		Active:      flexBool(true),
		Volume:      "1234.5",
		Tokens: []APIToken{
			{TokenID: "tok-up", Outcome: "Up"},
			{TokenID: "tok-down", Outcome: "Down"},
		},
		CreatedAt: "2026-08-01T00:00:00Z",
	}

	dm := m.ToDomainMarket()
	assert.Equal(t, "0xcond", dm.ID)
	assert.Equal(t, domain.MarketStatusActive, dm.Status)
	assert.Equal(t, 1234.5, dm.Volume)
	assert.Equal(t, [2]string{"tok-up", "tok-down"}, dm.TokenIDs)
	assert.Equal(t, [2]string{"Up", "Down"}, dm.Outcomes)

	side, err := dm.SideForToken("tok-up")
	require.NoError(t, err)
	assert.Equal(t, domain.SideUp, side)
}

func TestAPIMarket_ToDomainMarket_NormalisesTokenOrder(t *testing.T) {
	m := APIMarket{
		ConditionID: "0xcond",
		Tokens: []APIToken{
			{TokenID: "tok-down", Outcome: "Down"},
			{TokenID: "tok-up", Outcome: "Up"},
		},
	}

	dm := m.ToDomainMarket()
	assert.Equal(t, "tok-up", dm.TokenIDs[0])
	assert.Equal(t, "tok-down", dm.TokenIDs[1])
	assert.Equal(t, "Up", dm.Outcomes[0])
	assert.Equal(t, "Down", dm.Outcomes[1])
}

func TestAPIMarket_ToDomainMarket_ClosedWinsOverActive(t *testing.T) {
	m := APIMarket{
		ConditionID: "0xcond",
		Active:      flexBool(true),
		Closed:      true,
		Tokens: []APIToken{
			{TokenID: "a", Outcome: "Up"},
			{TokenID: "b", Outcome: "Down"},
		},
	}

	assert.Equal(t, domain.MarketStatusClosed, m.ToDomainMarket().Status)
}

func TestAPIMarket_IsBinary(t *testing.T) {
	binary := APIMarket{Tokens: []APIToken{{TokenID: "a"}, {TokenID: "b"}}}
	assert.True(t, binary.IsBinary())

	single := APIMarket{Tokens: []APIToken{{TokenID: "a"}}}
	assert.False(t, single.IsBinary())

	empty := APIMarket{Tokens: []APIToken{{TokenID: "a"}, {}}}
	assert.False(t, empty.IsBinary())
}

func TestAPITrade_ToDomainFill(t *testing.T) {
	market := domain.Market{
		ID:       "0xcond",
		TokenIDs: [2]string{"tok-up", "tok-down"},
		Outcomes: [2]string{"Up", "Down"},
	}

	trade := APITrade{
		ID:        "trade-1",
		Market:    "0xcond",
		AssetID:   "tok-down",
		Side:      "BUY",
		Size:      "25",
		Price:     "0.4",
		MatchTime: "1756000000",
		TxHash:    "0xabc",
	}

	f, err := trade.ToDomainFill(market)
	require.NoError(t, err)
	assert.Equal(t, domain.SideDown, f.Side)
	assert.Equal(t, "trade-1", f.TradeID)
	assert.Equal(t, 0.4, f.Price)
	assert.Equal(t, 25.0, f.Qty)
	assert.InDelta(t, 10.0, f.Cost, 1e-12)
	assert.Equal(t, time.Unix(1756000000, 0).UTC(), f.Timestamp)
}

func TestAPITrade_ToDomainFill_UnknownAsset(t *testing.T) {
	market := domain.Market{
		ID:       "0xcond",
		TokenIDs: [2]string{"tok-up", "tok-down"},
	}

	trade := APITrade{ID: "trade-1", AssetID: "tok-other"}
	_, err := trade.ToDomainFill(market)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookMessage_LevelsAndBestBid(t *testing.T) {
	book := BookMessage{
		AssetID: "tok-up",
		Bids: []WSPriceLevel{
			{Price: "0.51", Size: "100"},
			{Price: "0.55", Size: "40"},
			{Price: "0.60", Size: "0"},
		},
		Timestamp: "1756000000000",
	}

	levels := book.Levels()
	require.Len(t, levels, 3)

	best := domain.BestBid(levels)
	require.NotNil(t, best)
	assert.Equal(t, 0.55, *best)

	assert.Equal(t, time.UnixMilli(1756000000000), book.Time())
}

func TestPriceChangeMessage_Level(t *testing.T) {
	pc := PriceChangeMessage{
		AssetID: "tok-up",
		Side:    "BUY",
		Price:   "0.52",
		Size:    "0",
	}

	lvl := pc.Level()
	assert.Equal(t, 0.52, lvl.Price)
	assert.Zero(t, lvl.Size)
}

func TestParseWSTime_FallsBackToNow(t *testing.T) {
	before := time.Now()
	got := parseWSTime("not-a-time")
	assert.False(t, got.Before(before.Add(-time.Second)))
}
