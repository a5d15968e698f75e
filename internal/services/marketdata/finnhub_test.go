package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinnhubStreamTracksLatestTrade(t *testing.T) {
	tradeAt := time.Now()
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg["symbol"]
		}
		_ = conn.WriteJSON(map[string]interface{}{
			"type": "trade",
			"data": []map[string]interface{}{
				{"s": "BINANCE:BTCUSDT", "p": 97000.5, "v": 0.1, "t": tradeAt.UnixMilli()},
				{"s": "BINANCE:ETHUSDT", "p": 3810.25, "v": 2, "t": tradeAt.UnixMilli()},
				{"s": "BINANCE:SOLUSDT", "p": 150, "v": 1, "t": tradeAt.UnixMilli()},
			},
		})
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewFinnhubPriceStream(FinnhubConfig{
		APIKey:       "secret",
		WebSocketURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: map[models.Asset]string{
			models.AssetBTC: "BINANCE:BTCUSDT",
			models.AssetETH: "BINANCE:ETHUSDT",
		},
		MaxAge: time.Minute,
	}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	assets := []models.Asset{models.AssetBTC, models.AssetETH}
	require.Eventually(t, func() bool {
		_, err := stream.FetchPrices(context.Background(), assets)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	prices, err := stream.FetchPrices(context.Background(), assets)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("97000.5").Equal(prices[models.AssetBTC]))
	assert.True(t, decimal.RequireFromString("3810.25").Equal(prices[models.AssetETH]))
	assert.True(t, stream.IsConnected())
	assert.Len(t, subscribed, 2)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestFinnhubStreamRejectsOldQuotes(t *testing.T) {
	stream := NewFinnhubPriceStream(FinnhubConfig{
		Symbols: map[models.Asset]string{models.AssetBTC: "BINANCE:BTCUSDT"},
		MaxAge:  time.Minute,
	}, logger.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stream.now = func() time.Time { return now }
	stream.handleFrame([]byte(`{"type":"trade","data":[{"s":"BINANCE:BTCUSDT","p":97000,"t":` +
		strconv.FormatInt(now.Add(-2*time.Minute).UnixMilli(), 10) + `}]}`))

	_, err := stream.FetchPrices(context.Background(), []models.Asset{models.AssetBTC})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)

	_, err = stream.FetchPrices(context.Background(), []models.Asset{models.AssetETH})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

type stubPriceSource struct {
	name   string
	prices map[models.Asset]decimal.Decimal
	err    error
	calls  int
}

func (s *stubPriceSource) Name() string { return s.name }

func (s *stubPriceSource) FetchPrices(context.Context, []models.Asset) (map[models.Asset]decimal.Decimal, error) {
	s.calls++
	return s.prices, s.err
}

func TestFallbackPriceSource(t *testing.T) {
	stream := &stubPriceSource{name: "finnhub", err: models.SourceUnavailable("finnhub", errors.New("stale"))}
	rest := &stubPriceSource{name: "coingecko", prices: map[models.Asset]decimal.Decimal{models.AssetBTC: decimal.NewFromInt(97000)}}

	src := NewFallbackPriceSource(logger.Nop(), stream, rest)
	prices, err := src.FetchPrices(context.Background(), []models.Asset{models.AssetBTC})
	require.NoError(t, err)
	assert.True(t, prices[models.AssetBTC].Equal(decimal.NewFromInt(97000)))
	assert.Equal(t, 1, stream.calls)
	assert.Equal(t, models.SourcePrices, src.Name())

	rest.err = errors.New("503")
	_, err = src.FetchPrices(context.Background(), []models.Asset{models.AssetBTC})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}
