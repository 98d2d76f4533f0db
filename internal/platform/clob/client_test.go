package clob

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/sidepricer/internal/domain"
)

type fakeLimiter struct {
	waitKey    string
	waitLimit  int
	waitWindow time.Duration
	waitCalls  int
	err        error
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeLimiter) Wait(_ context.Context, key string, limit int, window time.Duration) error {
	f.waitKey, f.waitLimit, f.waitWindow = key, limit, window
	f.waitCalls++
	return f.err
}

func marketJSON(conditionID string) string {
	return fmt.Sprintf(`{
		"condition_id": %q,
		"question": "Will BTC go up this hour?",
		"active": true,
		"tokens": [
			{"token_id": "tok-up", "outcome": "Up"},
			{"token_id": "tok-down", "outcome": "Down"}
		]
	}`, conditionID)
}

func TestGetMarket_PacesThroughLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, marketJSON("0xcond"))
	}))
	defer srv.Close()

	limiter := &fakeLimiter{}
	c := NewClient(srv.URL, nil, nil, limiter, 10, time.Second)

	m, err := c.GetMarket(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Equal(t, "0xcond", m.ID)

	assert.Equal(t, 1, limiter.waitCalls)
	assert.Equal(t, rateLimitKey, limiter.waitKey)
	assert.Equal(t, 10, limiter.waitLimit)
	assert.Equal(t, time.Second, limiter.waitWindow)
}

func TestGetMarket_LimiterErrorAbortsRequest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, marketJSON("0xcond"))
	}))
	defer srv.Close()

	limiter := &fakeLimiter{err: context.DeadlineExceeded}
	c := NewClient(srv.URL, nil, nil, limiter, 10, time.Second)

	_, err := c.GetMarket(context.Background(), "0xcond")
	require.Error(t, err)
	assert.Zero(t, hits)
}

func TestGetMarket_NilLimiterAdmitsEverything(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, marketJSON("0xcond"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, nil, 0, 0)

	m, err := c.GetMarket(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Equal(t, "0xcond", m.ID)
}

func TestListTrades_RequiresCredentials(t *testing.T) {
	c := NewClient("http://unused", nil, nil, nil, 0, 0)

	_, _, err := c.ListTrades(context.Background(), "0xcond", time.Time{}, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
