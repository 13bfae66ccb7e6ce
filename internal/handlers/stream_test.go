package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified_portfolio/internal/broker"
	"unified_portfolio/internal/portfolio"
)

func TestStreamHandler_PushesPublishedAggregates(t *testing.T) {
	deps := newTestDeps(t)
	h := NewStreamHandler(deps)
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first portfolio.AggregatePortfolio
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 0.0, first.TotalBalance.Value)
	assert.Equal(t, 1, deps.Projector.Subscribers())

	deps.Projector.Publish(portfolio.Aggregate([]*broker.Result{coinbaseResult()}, "USD"))

	var next portfolio.AggregatePortfolio
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 6500.0, next.TotalBalance.Value)
	assert.Contains(t, next.Positions, portfolio.PositionKey{Provider: broker.Coinbase, Symbol: "BTC"})
}

func TestStreamHandler_UnsubscribesOnClose(t *testing.T) {
	deps := newTestDeps(t)
	h := NewStreamHandler(deps)
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	var first portfolio.AggregatePortfolio
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return deps.Projector.Subscribers() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStreamHandler_RejectsPlainHTTP(t *testing.T) {
	h := NewStreamHandler(newTestDeps(t))

	rec := serve(http.HandlerFunc(h.Serve), "GET", "/ws/portfolio")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
