package clob

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// endCursor is the sentinel next_cursor value marking the last page of a
// cursor-paginated CLOB listing.
const endCursor = "LTE="

// --------------------------------------------------------------------------
// CLOB REST DTOs
// --------------------------------------------------------------------------

// APIToken is a token entry inside a CLOB market response.
type APIToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// APIMarket represents a market as returned by the CLOB markets endpoint.
type APIMarket struct {
	ConditionID string     `json:"condition_id"`
	Question    string     `json:"question"`
	Slug        string     `json:"market_slug"`
	Tokens      []APIToken `json:"tokens"`
	Active      flexBool   `json:"active"`
	Closed      bool       `json:"closed"`
	Archived    bool       `json:"archived"`
	Volume      string     `json:"volume"`
	EndDateISO  string     `json:"end_date_iso"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// marketsPage is the cursor-paginated envelope of the markets endpoint.
type marketsPage struct {
	Limit      int         `json:"limit"`
	Count      int         `json:"count"`
	NextCursor string      `json:"next_cursor"`
	Data       []APIMarket `json:"data"`
}

// IsBinary reports whether the market has exactly the two outcome tokens
// this service understands.
func (m *APIMarket) IsBinary() bool {
	return len(m.Tokens) == 2 && m.Tokens[0].TokenID != "" && m.Tokens[1].TokenID != ""
}

// ToDomainMarket converts an APIMarket to a domain.Market. Token index 0 is
// treated as the UP side and index 1 as the DOWN side; when the venue labels
// the outcomes "Down"/"Up" in the opposite order they are swapped so the
// domain convention holds.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:       m.ConditionID,
		Question: m.Question,
		Slug:     m.Slug,
		Outcomes: [2]string{"Up", "Down"},
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Closed || m.Archived {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.Active) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}

	for i, tok := range m.Tokens {
		if i >= 2 {
			break
		}
		dm.TokenIDs[i] = tok.TokenID
		if tok.Outcome != "" {
			dm.Outcomes[i] = tok.Outcome
		}
	}
	// Normalise token order so index 0 is always the UP outcome.
	if strings.EqualFold(dm.Outcomes[0], "down") || strings.EqualFold(dm.Outcomes[1], "up") {
		dm.Outcomes[0], dm.Outcomes[1] = dm.Outcomes[1], dm.Outcomes[0]
		dm.TokenIDs[0], dm.TokenIDs[1] = dm.TokenIDs[1], dm.TokenIDs[0]
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ClosedAt = &t
		}
	}

	return dm
}

// APITrade represents one of the operator's fills as returned by the
// authenticated trades endpoint.
type APITrade struct {
	ID        string `json:"id"`
	Market    string `json:"market"` // condition ID
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Size      string `json:"size"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	MatchTime string `json:"match_time"` // Unix seconds as string
	TxHash    string `json:"transaction_hash"`
}

// TradesPage is the cursor-paginated envelope of the trades endpoint.
type TradesPage struct {
	Limit      int        `json:"limit"`
	Count      int        `json:"count"`
	NextCursor string     `json:"next_cursor"`
	Data       []APITrade `json:"data"`
}

// ToDomainFill converts an APITrade to a domain.Fill, resolving the traded
// asset onto a market side. Returns domain.ErrNotFound (wrapped via
// SideForToken) when the asset does not belong to the market.
func (t *APITrade) ToDomainFill(market domain.Market) (domain.Fill, error) {
	side, err := market.SideForToken(t.AssetID)
	if err != nil {
		return domain.Fill{}, err
	}

	f := domain.Fill{
		MarketID: market.ID,
		Side:     side,
		TradeID:  t.ID,
		TxHash:   t.TxHash,
	}
	f.Price, _ = strconv.ParseFloat(t.Price, 64)
	f.Qty, _ = strconv.ParseFloat(t.Size, 64)
	f.Cost = f.Price * f.Qty

	if ts, err := strconv.ParseInt(t.MatchTime, 10, 64); err == nil {
		f.Timestamp = time.Unix(ts, 0).UTC()
	} else if ts, err := time.Parse(time.RFC3339, t.MatchTime); err == nil {
		f.Timestamp = ts
	} else {
		f.Timestamp = time.Now().UTC()
	}

	return f, nil
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// Levels converts the raw bid levels to domain price levels.
func (b *BookMessage) Levels() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(b.Bids))
	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// Time parses the message timestamp (Unix seconds or RFC3339), falling back
// to the current time.
func (b *BookMessage) Time() time.Time {
	return parseWSTime(b.Timestamp)
}

// PriceChangeMessage represents an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// Level parses the updated price level.
func (p *PriceChangeMessage) Level() domain.PriceLevel {
	var lvl domain.PriceLevel
	lvl.Price, _ = strconv.ParseFloat(p.Price, 64)
	lvl.Size, _ = strconv.ParseFloat(p.Size, 64)
	return lvl
}

// Time parses the message timestamp, falling back to the current time.
func (p *PriceChangeMessage) Time() time.Time {
	return parseWSTime(p.Timestamp)
}

func parseWSTime(s string) time.Time {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Millisecond timestamps are common on this feed.
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
