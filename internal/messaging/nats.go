package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/config"
)

// HandlerFunc serves one request pattern. The returned value is the reply
// payload.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// EventHandlerFunc consumes one event. Events have no reply, so a returned
// error is only logged.
type EventHandlerFunc func(ctx context.Context, data json.RawMessage) error

type Conn struct {
	nc      *nats.Conn
	timeout time.Duration

	workers *errgroup.Group

	mu   sync.Mutex
	subs []*nats.Subscription
}

const maxInFlight = 64

func Connect(cfg config.NATSConfig, name string) (*Conn, error) {
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("nats: async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	workers := &errgroup.Group{}
	workers.SetLimit(maxInFlight)

	return &Conn{nc: nc, timeout: cfg.RequestTimeout, workers: workers}, nil
}

// Request sends data to the handler of p and decodes its response into out.
// Without a deadline on ctx the configured request timeout applies.
func (c *Conn) Request(ctx context.Context, p Pattern, data any, out any) error {
	body, id, err := EncodeRequest(p, data)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, p.Subject(), body)
	if err != nil {
		return fmt.Errorf("nats request %s: %w", p, err)
	}

	if err := DecodeReply(msg.Data, out); err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			log.Error().Err(err).Str("pattern", p.String()).Str("request_id", id).Msg("nats: undecodable reply")
		}
		return err
	}
	return nil
}

// Handle serves p on a queue group so instances share the load. Each request
// runs on its own goroutine, bounded by the worker limit, with ctx as its
// parent context.
func (c *Conn) Handle(ctx context.Context, p Pattern, queue string, h HandlerFunc) error {
	sub, err := c.nc.QueueSubscribe(p.Subject(), queue, func(msg *nats.Msg) {
		c.workers.Go(func() error {
			c.serve(ctx, p, h, msg)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p, err)
	}
	c.track(sub)
	return nil
}

func (c *Conn) serve(ctx context.Context, p Pattern, h HandlerFunc, msg *nats.Msg) {
	var body []byte
	req, err := DecodeRequest(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("pattern", p.String()).Msg("nats: malformed request")
		body, _ = EncodeReply("", nil, NewRemoteError(http.StatusBadRequest, err.Error()))
	} else {
		res, handlerErr := h(ctx, req.Data)
		body, err = EncodeReply(req.ID, res, handlerErr)
		if err != nil {
			log.Error().Err(err).Str("pattern", p.String()).Msg("nats: failed to encode reply")
			body, _ = EncodeReply(req.ID, nil, err)
		}
	}

	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(body); err != nil {
		log.Error().Err(err).Str("pattern", p.String()).Msg("nats: failed to send reply")
	}
}

// Subscribe consumes events published on p.
func (c *Conn) Subscribe(ctx context.Context, p Pattern, queue string, h EventHandlerFunc) error {
	sub, err := c.nc.QueueSubscribe(p.Subject(), queue, func(msg *nats.Msg) {
		if err := h(ctx, EventData(msg.Data)); err != nil {
			log.Warn().Err(err).Str("pattern", p.String()).Msg("nats: event handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p, err)
	}
	c.track(sub)
	return nil
}

// Publish emits an event on p.
func (c *Conn) Publish(p Pattern, data any) error {
	body, err := EncodeEvent(p, data)
	if err != nil {
		return err
	}
	return c.nc.Publish(p.Subject(), body)
}

func (c *Conn) track(sub *nats.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
}

// Subscriptions returns the number of active handlers and event consumers.
func (c *Conn) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Drain stops the subscriptions, waits for in-flight requests, then drains
// and closes the connection.
func (c *Conn) Drain() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("subject", sub.Subject).Msg("nats: failed to drain subscription")
		}
	}
	for _, sub := range subs {
		// Drain is asynchronous; wait until the pending queue is empty.
		for sub.IsValid() {
			if n, _, err := sub.Pending(); err != nil || n == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	_ = c.workers.Wait()

	return c.nc.Drain()
}

func (c *Conn) Close() {
	c.nc.Close()
	log.Info().Msg("NATS connection closed")
}

func (c *Conn) Connected() bool {
	return c.nc.IsConnected()
}
