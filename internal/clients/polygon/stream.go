package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/corvid-labs/scout/internal/modules/features"
)

const (
	defaultStreamURL = "wss://socket.polygon.io/stocks"

	streamDialTimeout  = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// streamEvent is one message on the stocks feed. Only the fields the
// feature cache consumes are decoded.
type streamEvent struct {
	EventType string  `json:"ev"`
	Symbol    string  `json:"sym"`
	Price     float64 `json:"p"`  // trades
	Close     float64 `json:"c"`  // aggregates
	VWAP      float64 `json:"vw"` // aggregates
	Volume    float64 `json:"v"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
}

// Stream subscribes to the live stocks feed and writes quote, minute-bar
// and vwap features into the shared feature cache with stream provenance.
// The discovery pipeline itself never blocks on the stream; it simply
// benefits from fresher cache entries while the stream is healthy.
type Stream struct {
	url    string
	apiKey string
	cache  *features.Cache
	log    zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	stopCh  chan struct{}
}

// NewStream creates a live feed ingester writing into cache.
func NewStream(apiKey string, cache *features.Cache, log zerolog.Logger) *Stream {
	return &Stream{
		url:    defaultStreamURL,
		apiKey: apiKey,
		cache:  cache,
		log:    log.With().Str("component", "polygon_stream").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start connects and runs the read loop with reconnection in the
// background until Stop is called.
func (s *Stream) Start(ctx context.Context, symbols []string) {
	go s.run(ctx, symbols)
}

// Stop shuts the stream down.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
	}
}

func (s *Stream) run(ctx context.Context, symbols []string) {
	delay := baseReconnectDelay
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndRead(ctx, symbols); err != nil {
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Stream disconnected")
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context, symbols []string) error {
	dialCtx, cancel := context.WithTimeout(ctx, streamDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}
	conn.SetReadLimit(1 << 22) // bulk subscriptions produce large frames

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.authenticate(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "auth failed")
		return err
	}
	if err := s.subscribe(ctx, conn, symbols); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return err
	}

	s.log.Info().Int("symbols", len(symbols)).Msg("Stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
		s.handleMessage(ctx, data)
	}
}

func (s *Stream) authenticate(ctx context.Context, conn *websocket.Conn) error {
	msg, _ := json.Marshal(map[string]string{"action": "auth", "params": s.apiKey})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	return nil
}

func (s *Stream) subscribe(ctx context.Context, conn *websocket.Conn, symbols []string) error {
	// Trades and minute aggregates per symbol: "T.AAPL,AM.AAPL,..."
	params := ""
	for i, sym := range symbols {
		if i > 0 {
			params += ","
		}
		params += "T." + sym + ",AM." + sym
	}
	msg, _ := json.Marshal(map[string]string{"action": "subscribe", "params": params})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

func (s *Stream) handleMessage(ctx context.Context, data []byte) {
	var events []streamEvent
	if err := json.Unmarshal(data, &events); err != nil {
		s.log.Debug().Err(err).Msg("Undecodable stream frame")
		return
	}

	for _, ev := range events {
		switch ev.EventType {
		case "T": // trade
			if ev.Symbol != "" && ev.Price > 0 {
				s.cache.Put(ctx, "quote", ev.Symbol, ev.Price, features.SourceStream, 0.8)
			}
		case "AM": // minute aggregate
			if ev.Symbol == "" {
				continue
			}
			if ev.Close > 0 {
				s.cache.Put(ctx, "bar_1m", ev.Symbol, ev.Close, features.SourceStream, 0.8)
			}
			if ev.VWAP > 0 {
				s.cache.Put(ctx, "vwap", ev.Symbol, ev.VWAP, features.SourceStream, 0.8)
			}
		case "status":
			if ev.Status == "auth_failed" {
				s.log.Error().Str("message", ev.Message).Msg("Stream authentication failed")
			}
		}
	}
}
