package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "blogdesk/contracts/realtime/v1"
)

var errHeartbeat = errors.New("heartbeat failed")

// connection wraps one open Conn with its reader, writer and heartbeat goroutines.
// Every goroutine reports back to the manager through post, tagged with gen.
//
// send is never closed; done signals shutdown. close is idempotent.
type connection struct {
	gen  uint64
	conn Conn
	log  *slog.Logger
	cfg  Config

	send chan v1.Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConnection(parent context.Context, gen uint64, c Conn, cfg Config, log *slog.Logger) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		gen:    gen,
		conn:   c,
		log:    log,
		cfg:    cfg,
		send:   make(chan v1.Envelope, cfg.SendQueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// start launches the goroutines; post delivers events to the manager loop.
func (c *connection) start(post func(Event) bool) {
	c.wg.Add(2)
	go c.readLoop(post)
	go c.writeLoop(post)
	if c.cfg.HeartbeatInterval > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop(post)
	}
}

// Done is closed when the connection is shutting down.
func (c *connection) Done() <-chan struct{} { return c.done }

// enqueue queues env for the writer without blocking.
func (c *connection) enqueue(env v1.Envelope) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case <-c.done:
		return ErrNotConnected
	case c.send <- env:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// close stops the goroutines and closes the transport (idempotent). The close
// handshake runs in the background so the caller never waits on the peer.
func (c *connection) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			if err := c.conn.Close(reason); err != nil {
				c.log.Debug("realtime.conn.close.fail", "gen", c.gen, "err", err)
			}
			c.cancel()
		}()
	})
}

// wait blocks until the goroutines exit or the grace period elapses.
func (c *connection) wait() {
	ch := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(closeGrace):
	}
}

func (c *connection) readLoop(post func(Event) bool) {
	defer c.wg.Done()
	for {
		env, err := c.conn.Read(c.ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadFrame:
				c.log.Info("realtime.read.bad_frame", "gen", c.gen, "err", err)
				continue
			case readErrCtxDone:
				return
			case readErrClose, readErrConnClosed:
				post(Event{Kind: EventClose, Gen: c.gen, Err: err})
				return
			default:
				post(Event{Kind: EventError, Gen: c.gen, Err: err})
				return
			}
		}
		if err := env.Validate(); err != nil {
			c.log.Info("realtime.read.bad_envelope", "gen", c.gen, "type", env.Type, "err", err)
			continue
		}
		if !post(Event{Kind: EventMessage, Gen: c.gen, Envelope: env}) {
			return
		}
	}
}

func (c *connection) writeLoop(post func(Event) bool) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
			err := c.conn.Write(ctx, env)
			cancel()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.log.Info("realtime.write.fail", "gen", c.gen, "type", env.Type, "err", err)
				post(Event{Kind: EventError, Gen: c.gen, Err: err})
				return
			}
		}
	}
}

func (c *connection) heartbeatLoop(post func(Event) bool) {
	defer c.wg.Done()

	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HeartbeatTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.log.Info("realtime.ping.fail", "gen", c.gen, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				post(Event{Kind: EventError, Gen: c.gen, Err: errHeartbeat})
				return
			}
		}
	}
}
