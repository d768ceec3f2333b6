package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmesh/types"
)

// ClientConfig configures a relay client.
type ClientConfig struct {
	// URL is the relay websocket endpoint.
	URL string `yaml:"url" json:"url"`
	// PublishTimeout bounds the wait for a relay acknowledgment. Default 10s.
	PublishTimeout time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
	// PublishRate limits outgoing events per second. Default 10.
	PublishRate float64 `yaml:"publish_rate" json:"publish_rate"`
	// PublishBurst is the rate limiter burst size. Default 20.
	PublishBurst int `yaml:"publish_burst" json:"publish_burst"`
}

// Client is a websocket relay client. Publish blocks until the relay
// acknowledges the event; Subscribe delivers matching events on a channel
// until the subscription context is canceled.
type Client struct {
	config  ClientConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	subMu sync.RWMutex
	subs  map[string]*subscription

	ackMu sync.Mutex
	acks  map[string]chan ackResult

	readDone chan struct{}
}

type subscription struct {
	filter Filter
	ch     chan *Event
}

type ackResult struct {
	ok     bool
	reason string
}

// NewClient creates a relay client. Connect must be called before use.
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}
	if config.PublishRate <= 0 {
		config.PublishRate = 10
	}
	if config.PublishBurst <= 0 {
		config.PublishBurst = 20
	}
	return &Client{
		config:  config,
		logger:  logger.With(zap.String("component", "relay_client"), zap.String("relay", config.URL)),
		limiter: rate.NewLimiter(rate.Limit(config.PublishRate), config.PublishBurst),
		subs:    make(map[string]*subscription),
		acks:    make(map[string]chan ackResult),
	}
}

// Connect dials the relay and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", c.config.URL, err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.readDone = make(chan struct{})
	go c.readLoop(conn, c.readDone)

	c.logger.Info("relay connected")
	return nil
}

// Close closes the connection and all subscription channels.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	done := c.readDone
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
		if done != nil {
			<-done
		}
	}

	c.subMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
	return nil
}

// Publish sends a signed event and waits for the relay acknowledgment,
// bounded by PublishTimeout. The returned error distinguishes rejection
// from timeout.
func (c *Client) Publish(ctx context.Context, event *Event) error {
	if event.Sig == "" || event.ID == "" {
		return ErrUnsigned
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("publish rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.PublishTimeout)
	defer cancel()

	ackCh := make(chan ackResult, 1)
	c.ackMu.Lock()
	c.acks[event.ID] = ackCh
	c.ackMu.Unlock()
	// Drop the pending ack on every exit path.
	defer func() {
		c.ackMu.Lock()
		delete(c.acks, event.ID)
		c.ackMu.Unlock()
	}()

	if err := c.send(ctx, []any{"EVENT", event}); err != nil {
		return err
	}

	c.logger.Debug("event published, awaiting ack",
		zap.String("event_id", event.ID),
		zap.Int("kind", int(event.Kind)),
		zap.String("event", marshalForLog(event)),
	)

	select {
	case ack := <-ackCh:
		if !ack.ok {
			return types.NewError(types.ErrRelayRejected, ack.reason).WithCause(ErrRejected)
		}
		return nil
	case <-ctx.Done():
		return types.NewTimeoutError("relay publish", c.config.PublishTimeout)
	}
}

// Subscribe registers a filter and returns a channel of matching events.
// The channel is closed when ctx is canceled or the client closes.
func (c *Client) Subscribe(ctx context.Context, filter Filter) (<-chan *Event, error) {
	subID := uuid.New().String()
	sub := &subscription{filter: filter, ch: make(chan *Event, 64)}

	c.subMu.Lock()
	c.subs[subID] = sub
	c.subMu.Unlock()

	if err := c.send(ctx, []any{"REQ", subID, filter}); err != nil {
		c.subMu.Lock()
		delete(c.subs, subID)
		c.subMu.Unlock()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		c.unsubscribe(subID)
	}()

	c.logger.Debug("subscription opened", zap.String("sub_id", subID))
	return sub.ch, nil
}

func (c *Client) unsubscribe(subID string) {
	c.subMu.Lock()
	sub, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
		// Closed under the write lock: dispatch sends while holding the
		// read lock, so no send can be in flight here.
		close(sub.ch)
	}
	c.subMu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.send(ctx, []any{"CLOSE", subID})
}

func (c *Client) send(ctx context.Context, frame []any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop dispatches relay frames to subscriptions and pending acks.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.logger.Debug("relay read loop ended", zap.Error(err))
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		// ["EVENT", subID, event]
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		var event Event
		if err := json.Unmarshal(frame[2], &event); err != nil {
			return
		}
		// The non-blocking send happens under the read lock so it cannot
		// race the close in unsubscribe, which holds the write lock.
		c.subMu.RLock()
		defer c.subMu.RUnlock()
		sub, ok := c.subs[subID]
		if !ok || !sub.filter.Matches(&event) {
			return
		}
		select {
		case sub.ch <- &event:
		default:
			c.logger.Warn("subscription channel full, dropping event",
				zap.String("sub_id", subID),
				zap.String("event_id", event.ID),
			)
		}

	case "OK":
		// ["OK", eventID, accepted, reason]
		if len(frame) < 3 {
			return
		}
		var eventID string
		var accepted bool
		if err := json.Unmarshal(frame[1], &eventID); err != nil {
			return
		}
		if err := json.Unmarshal(frame[2], &accepted); err != nil {
			return
		}
		reason := ""
		if len(frame) >= 4 {
			_ = json.Unmarshal(frame[3], &reason)
		}
		c.ackMu.Lock()
		ackCh, ok := c.acks[eventID]
		c.ackMu.Unlock()
		if ok {
			select {
			case ackCh <- ackResult{ok: accepted, reason: reason}:
			default:
			}
		}
	}
}
