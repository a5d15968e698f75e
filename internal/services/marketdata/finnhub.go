package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// FinnhubConfig configures FinnhubPriceStream.
type FinnhubConfig struct {
	APIKey         string
	WebSocketURL   string
	Symbols        map[models.Asset]string // asset -> exchange symbol, e.g. BINANCE:BTCUSDT
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	MaxAge         time.Duration
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// FinnhubPriceStream keeps the latest trade price per asset from the Finnhub
// trades websocket. FetchPrices serves those prices while they are younger
// than MaxAge.
type FinnhubPriceStream struct {
	cfg    FinnhubConfig
	assets map[string]models.Asset
	dialer *websocket.Dialer
	now    func() time.Time
	log    *logger.Logger

	mu        sync.RWMutex
	quotes    map[models.Asset]quote
	connected bool
}

var _ repository.PriceSource = (*FinnhubPriceStream)(nil)

func NewFinnhubPriceStream(cfg FinnhubConfig, l *logger.Logger) *FinnhubPriceStream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	assets := make(map[string]models.Asset, len(cfg.Symbols))
	for a, sym := range cfg.Symbols {
		assets[sym] = a
	}
	return &FinnhubPriceStream{
		cfg:    cfg,
		assets: assets,
		dialer: websocket.DefaultDialer,
		now:    time.Now,
		log:    l.With(logger.String("source", "finnhub")),
		quotes: make(map[models.Asset]quote),
	}
}

func (s *FinnhubPriceStream) Name() string { return "finnhub" }

func (s *FinnhubPriceStream) FetchPrices(ctx context.Context, assets []models.Asset) (map[models.Asset]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.SourceUnavailable(s.Name(), err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	prices := make(map[models.Asset]decimal.Decimal, len(assets))
	for _, a := range assets {
		q, ok := s.quotes[a]
		if !ok {
			return nil, models.SourceUnavailable(s.Name(), fmt.Errorf("no trades seen for %s", a))
		}
		if now.Sub(q.at) > s.cfg.MaxAge {
			return nil, models.SourceUnavailable(s.Name(), fmt.Errorf("last %s trade is %s old", a, now.Sub(q.at).Truncate(time.Second)))
		}
		prices[a] = q.price
	}
	return prices, nil
}

func (s *FinnhubPriceStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Run connects, subscribes and reads until ctx is done, reconnecting after
// ReconnectDelay whenever the connection drops.
func (s *FinnhubPriceStream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("finnhub stream disconnected", logger.Error(err), logger.Duration("retry_in", s.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *FinnhubPriceStream) session(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", s.cfg.WebSocketURL, s.cfg.APIKey)
	conn, _, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	defer conn.Close()
	s.setConnected(true)
	defer s.setConnected(false)

	for _, sym := range s.cfg.Symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": sym}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	s.log.Info("finnhub stream subscribed", logger.Int("symbols", len(s.cfg.Symbols)))

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("finnhub read: %w", err)
		}
		s.handleFrame(b)
	}
}

type finnhubTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type finnhubMessage struct {
	Type string         `json:"type"`
	Data []finnhubTrade `json:"data"`
	Msg  string         `json:"msg"`
}

func (s *FinnhubPriceStream) handleFrame(b []byte) {
	var m finnhubMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return
	}
	switch m.Type {
	case "trade":
	case "error":
		s.log.Warn("finnhub error frame", logger.Error(errors.New(m.Msg)))
		return
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range m.Data {
		a, ok := s.assets[t.S]
		if !ok || t.P <= 0 {
			continue
		}
		at := time.UnixMilli(t.T)
		if prev, ok := s.quotes[a]; ok && prev.at.After(at) {
			continue
		}
		s.quotes[a] = quote{price: decimal.NewFromFloat(t.P), at: at}
	}
}

func (s *FinnhubPriceStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// FallbackPriceSource asks each source in order and returns the first
// complete answer.
type FallbackPriceSource struct {
	sources []repository.PriceSource
	log     *logger.Logger
}

var _ repository.PriceSource = (*FallbackPriceSource)(nil)

func NewFallbackPriceSource(l *logger.Logger, sources ...repository.PriceSource) *FallbackPriceSource {
	return &FallbackPriceSource{sources: sources, log: l}
}

func (f *FallbackPriceSource) Name() string { return models.SourcePrices }

func (f *FallbackPriceSource) FetchPrices(ctx context.Context, assets []models.Asset) (map[models.Asset]decimal.Decimal, error) {
	var errs []error
	for _, src := range f.sources {
		prices, err := src.FetchPrices(ctx, assets)
		if err == nil {
			return prices, nil
		}
		f.log.Debug("price source failed, trying next", logger.String("source", src.Name()), logger.Error(err))
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, models.SourceUnavailable(f.Name(), errors.New("no price sources configured"))
	}
	return nil, models.SourceUnavailable(f.Name(), errors.Join(errs...))
}
