package smartfeed

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamURI         = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatMessage  = "ping"
	heartbeatInterval = 10 * time.Second

	subscribeAction   = 1
	unsubscribeAction = 0
)

// Subscription modes on the wire.
const (
	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3
)

// TokenList groups tokens under one exchange type for subscribe requests.
type TokenList struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// FeedConfig configures the market-data stream.
type FeedConfig struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	// Reconnect backoff. Delay doubles per attempt up to MaxDelay;
	// MaxAttempts 0 means retry forever.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// Feed is the market-data websocket. It delivers raw binary frames through
// OnFrame; text frames are heartbeat traffic and are handled internally.
// Subscriptions are remembered and replayed after a reconnect.
type Feed struct {
	cfg FeedConfig

	mu   sync.Mutex
	wmu  sync.Mutex // serializes websocket writes
	conn *websocket.Conn
	subs []subRequest

	// OnFrame receives every binary frame. Called from the read loop; the
	// buffer is only valid for the duration of the call.
	OnFrame func(frame []byte)

	// OnConnect fires after each successful (re)connect, once the stored
	// subscriptions have been replayed.
	OnConnect func()

	// OnReconnect fires before each reconnection attempt (optional).
	OnReconnect func(attempt int)
}

type subRequest struct {
	mode      int
	tokenList []TokenList
}

// NewFeed creates a Feed. Tokens come from Client.Login.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.AuthToken == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("smartfeed: all four tokens are required")
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 2 * time.Minute
	}
	return &Feed{cfg: cfg}, nil
}

// Subscribe stores the request and, when connected, sends it. Stored
// requests are replayed after every reconnect.
func (f *Feed) Subscribe(mode int, tokenList []TokenList) error {
	f.mu.Lock()
	f.subs = append(f.subs, subRequest{mode: mode, tokenList: tokenList})
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil // sent on connect
	}
	return f.sendSub(conn, subscribeAction, mode, tokenList)
}

// Unsubscribe drops the stored request for mode and, when connected, tells
// the server to stop streaming those tokens.
func (f *Feed) Unsubscribe(mode int, tokenList []TokenList) error {
	f.mu.Lock()
	kept := f.subs[:0]
	for _, s := range f.subs {
		if s.mode != mode {
			kept = append(kept, s)
		}
	}
	f.subs = kept
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	return f.sendSub(conn, unsubscribeAction, mode, tokenList)
}

func (f *Feed) sendSub(conn *websocket.Conn, action, mode int, tokenList []TokenList) error {
	req := map[string]interface{}{
		"correlationID": "feedengine",
		"action":        action,
		"params": map[string]interface{}{
			"mode":      mode,
			"tokenList": tokenList,
		},
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return conn.WriteJSON(req)
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff on any read or dial failure.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.cfg.InitialDelay
	attempt := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if f.cfg.MaxAttempts > 0 && attempt > f.cfg.MaxAttempts {
			return err
		}
		if f.OnReconnect != nil {
			f.OnReconnect(attempt)
		}
		log.Printf("[smartfeed] connection lost (%v), retrying in %s", err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.cfg.MaxDelay {
			delay = f.cfg.MaxDelay
		}
	}
}

// connectAndRead dials, replays subscriptions, and reads frames until the
// connection drops or ctx ends.
func (f *Feed) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	header.Add("Authorization", f.cfg.AuthToken)
	header.Add("x-api-key", f.cfg.APIKey)
	header.Add("x-client-code", f.cfg.ClientCode)
	header.Add("x-feed-token", f.cfg.FeedToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURI, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	subs := make([]subRequest, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for _, s := range subs {
		if err := f.sendSub(conn, subscribeAction, s.mode, s.tokenList); err != nil {
			return err
		}
	}
	if f.OnConnect != nil {
		f.OnConnect()
	}

	// Heartbeat writer; the server drops silent clients.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				f.wmu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte(heartbeatMessage))
				f.wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	// Close the socket when ctx ends so ReadMessage unblocks.
	go func() {
		<-hbCtx.Done()
		conn.Close()
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch mt {
		case websocket.BinaryMessage:
			if f.OnFrame != nil {
				f.OnFrame(message)
			}
		case websocket.TextMessage:
			// "pong" and subscription acks; nothing to do.
		}
	}
}

// Close tears down the current connection, if any.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
		f.conn = nil
	}
}
