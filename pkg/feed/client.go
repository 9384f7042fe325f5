// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/command"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/contract"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/dispatch"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/metrics"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/registry"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/retry"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/serial"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultHistoryLimit   = 10
)

var errForeignFeed = errors.New("feed belongs to another client")

type ReconnectPolicy struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Options struct {
	Dialer            core.Dialer
	ClientID          string
	DisableValidation bool
	CommandTimeout    time.Duration
	HistoryLimit      int
	Reconnect         ReconnectPolicy
	Logger            *slog.Logger
	// Registerer receives the client's metrics when set.
	Registerer prometheus.Registerer
}

// Client owns one connection and multiplexes feeds over it. It dials lazily
// when the first feed opens and releases the connection when the last open
// feed closes.
type Client struct {
	opts       Options
	clientID   string
	logger     *slog.Logger
	frames     *logging.FrameLogger
	metrics    *metrics.Metrics
	validator  *contract.Validator
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry[*Feed]
	commands   *command.Channel
	loop       *serial.Queue
	writer     *serial.Queue
	ctx        context.Context
	cancel     context.CancelFunc
	closing    atomic.Bool

	connMu sync.RWMutex
	conn   core.Connection

	// loop-owned
	gen          uint64
	connGen      uint64
	dialing      bool
	dialWaiters  []func(core.Connection, error)
	openInFlight int
	drained      chan struct{}
	drainOnce    sync.Once
}

func NewClient(opts Options) (*Client, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("%w: dialer", core.ErrMissingTransport)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feed-client")

	m := metrics.New()
	if opts.Registerer != nil {
		if err := m.Register(opts.Registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:       opts,
		clientID:   core.GenerateClientID(opts.ClientID),
		logger:     logger,
		frames:     logging.NewFrameLogger(logger),
		metrics:    m,
		validator:  contract.NewValidator(!opts.DisableValidation),
		dispatcher: dispatch.New(logger),
		registry:   registry.New[*Feed](),
		loop:       serial.New(logger),
		writer:     serial.New(logger),
		ctx:        ctx,
		cancel:     cancel,
		drained:    make(chan struct{}),
	}
	c.commands = command.NewChannel(command.Options{
		ClientID: c.clientID,
		Timeout:  opts.CommandTimeout,
		Loop:     c.loop,
		Writer:   c.writer,
		Logger:   logger,
		Frames:   c.frames,
		Observer: m,
	})

	go c.loop.Run(ctx)
	go c.writer.Run(ctx)

	logger.Info("feed client started", "client_id", c.clientID, "transport", opts.Dialer.Type())
	return c, nil
}

func (c *Client) ClientID() string { return c.clientID }

// NewFeed creates a closed feed bound to this client.
func (c *Client) NewFeed(cfg Config) (*Feed, error) {
	if c.closing.Load() {
		return nil, core.ErrClientClosed
	}
	return newFeed(c, cfg), nil
}

// OpenFeed creates a feed and opens it.
func (c *Client) OpenFeed(cfg Config) (*Feed, error) {
	f, err := c.NewFeed(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Open(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Open schedules f to be opened.
func (c *Client) Open(f *Feed) error {
	if f.client != c {
		return errForeignFeed
	}
	if !c.post(func() { c.openFeed(f) }) {
		return core.ErrClientClosed
	}
	return nil
}

// CloseFeed schedules f to be closed. A close issued while the feed's open is
// still in flight runs once the open settles.
func (c *Client) CloseFeed(f *Feed) error {
	if !c.post(func() { c.closeFeed(f) }) {
		return core.ErrClientClosed
	}
	return nil
}

// Feeds returns every feed currently registered as open.
func (c *Client) Feeds() []*Feed {
	return c.registry.All()
}

// Connected reports whether the client holds a connection.
func (c *Client) Connected() bool {
	return c.connection() != nil
}

func (c *Client) SetValidation(enabled bool) {
	c.validator.SetEnabled(enabled)
	c.logger.Info("message validation toggled", "enabled", enabled)
}

func (c *Client) Validation() bool { return c.validator.Enabled() }

// Close closes every open feed, waits for the sessions to end or ctx to
// expire, then releases the connection and stops the client.
func (c *Client) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.post(func() {
		feeds := c.registry.All()
		if len(feeds) == 0 {
			c.signalDrained()
			return
		}
		for _, f := range feeds {
			c.closeFeed(f)
		}
	})

	var err error
	select {
	case <-c.drained:
	case <-ctx.Done():
		err = ctx.Err()
	}

	final := make(chan struct{})
	if !c.post(func() {
		c.commands.FailAll(core.ErrClientClosed)
		c.releaseConnection()
		// runs after the completions FailAll queued
		if !c.post(func() { close(final) }) {
			close(final)
		}
	}) {
		close(final)
	}
	<-final
	c.cancel()
	<-c.loop.Done()
	<-c.writer.Done()
	c.logger.Info("feed client stopped", "client_id", c.clientID)
	return err
}

func (c *Client) post(fn func()) bool {
	return c.loop.Post(fn)
}

func (c *Client) connection() core.Connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setConnection(conn core.Connection) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// withConnection hands the current connection to fn, dialing first when
// there is none. Runs on the loop.
func (c *Client) withConnection(fn func(core.Connection, error)) {
	if conn := c.connection(); conn != nil {
		fn(conn, nil)
		return
	}
	c.dialWaiters = append(c.dialWaiters, fn)
	if c.dialing {
		return
	}
	c.dialing = true
	c.gen++
	gen := c.gen
	rcv := &connReceiver{client: c, gen: gen}

	go func() {
		conn, err := c.opts.Dialer.Dial(c.ctx, rcv)
		if !c.post(func() { c.dialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Client) dialed(gen uint64, conn core.Connection, err error) {
	c.dialing = false
	if err != nil {
		c.logger.Error("dial failed", "transport", c.opts.Dialer.Name(), "error", err)
	} else {
		c.setConnection(conn)
		c.connGen = gen
		c.logger.Info("connection established", "transport", c.opts.Dialer.Name())
	}
	c.flushWaiters(conn, err)
}

func (c *Client) flushWaiters(conn core.Connection, err error) {
	waiters := c.dialWaiters
	c.dialWaiters = nil
	for _, w := range waiters {
		w(conn, err)
	}
}

func (c *Client) openFeed(f *Feed) {
	if c.closing.Load() {
		f.logger.Warn("client closing, feed not opened")
		return
	}
	if f.opening || f.IsOpen() {
		f.logger.Debug("feed already open or opening")
		return
	}
	if f.closing {
		f.logger.Warn("feed close in progress, open ignored")
		return
	}
	f.opening = true
	c.openInFlight++

	c.withConnection(func(conn core.Connection, err error) {
		if err != nil {
			// no connection: logged only, state unchanged
			f.logger.Error("cannot open feed without a connection", "error", err)
			c.openSettled(f)
			return
		}
		c.startOpen(f, conn)
	})
}

func (c *Client) startOpen(f *Feed, conn core.Connection) {
	f.setConnection(conn)
	f.logger.Info("opening feed")
	f.bindListeners()

	if key, ok := c.registry.FindOpen(f.procID, f.filters); ok {
		c.reloadSettings(f, key)
		return
	}

	params := map[string]any{"feed": f.requestSettings()}
	if wk := f.getWriteKey(); wk != "" {
		params["writeKey"] = wk
	}
	c.commands.Send(c.ctx, conn, command.Command{Path: core.PathSessionCreate, Params: params}, func(res command.Result) {
		var s core.FeedSettings
		err := res.Decode(&s)
		if err == nil && s.FeedKey == "" {
			err = fmt.Errorf("%w: settings without feed key", core.ErrMalformedFrame)
		}
		if err != nil {
			c.openFailed(f, err)
			return
		}
		c.finishOpen(f, s, "create")
	})
}

// reloadSettings joins a session a sibling feed already holds.
func (c *Client) reloadSettings(f *Feed, key string) {
	s, ok := c.registry.Settings(key)
	if !ok {
		c.openFailed(f, fmt.Errorf("%w: %s", core.ErrUnknownFeedKey, key))
		return
	}
	f.logger.Debug("reusing open session", "feed_key", key)
	c.finishOpen(f, s, "reload")
}

func (c *Client) finishOpen(f *Feed, s core.FeedSettings, mode string) {
	f.adopt(s)
	c.registry.Register(s.FeedKey, f)
	if err := c.dispatcher.Register(dispatch.FeedKey(s.FeedKey), f); err != nil {
		f.logger.Error("feed key binding failed", "error", err)
	}
	c.metrics.FeedOpened(mode)
	c.metrics.SetOpenFeeds(c.registry.Len())
	f.logger.Info("feed opened", "feed_key", s.FeedKey, "feed_type", s.FeedType, "mode", mode)

	c.dispatcher.Dispatch(openEvent{key: f.idKey, feed: f})
	c.openSettled(f)
}

func (c *Client) openFailed(f *Feed, err error) {
	f.markState(core.FeedStateError)
	f.logger.Error("error opening feed", "error", err)
	c.metrics.FeedError("open")
	c.dispatcher.Dispatch(errorEvent{key: f.idKey, feed: f, err: err})
	c.openSettled(f)
}

func (c *Client) openSettled(f *Feed) {
	f.opening = false
	c.openInFlight--
	if f.closeQueued || (c.closing.Load() && f.IsOpen()) {
		f.closeQueued = false
		c.closeFeed(f)
		return
	}
	c.cleanUp()
}

func (c *Client) closeFeed(f *Feed) {
	if f.opening {
		f.logger.Debug("close queued until open settles")
		f.closeQueued = true
		return
	}
	if f.closing {
		return
	}
	if !f.IsOpen() {
		c.discard(f)
		return
	}

	key := f.FeedKey()
	conn := f.connection()
	siblings := 0
	for _, other := range c.registry.FeedsForKey(key) {
		if other != f {
			siblings++
		}
	}
	if siblings > 0 || conn == nil {
		// the session stays with the siblings; release locally
		c.finishClose(f, key, nil)
		return
	}

	f.closing = true
	f.logger.Info("closing feed", "feed_key", key)
	c.commands.Send(c.ctx, conn, command.Command{
		Path:   core.PathSessionDelete,
		Params: map[string]any{"fklist": key},
	}, func(res command.Result) {
		f.closing = false
		c.finishClose(f, key, res.Err)
	})
}

// finishClose runs on delete response and delete error alike.
func (c *Client) finishClose(f *Feed, key string, err error) {
	if err == nil {
		f.markState(core.FeedStateClosed)
		f.logger.Info("feed closed", "feed_key", key)
		c.dispatcher.Dispatch(closeEvent{key: f.idKey, feed: f})
	} else {
		f.markState(core.FeedStateError)
		f.logger.Error("error closing feed", "feed_key", key, "error", err)
		c.metrics.FeedError("close")
		c.dispatcher.Dispatch(errorEvent{key: f.idKey, feed: f, err: err})
	}
	f.unbindListeners()
	c.dispatcher.Unregister(dispatch.FeedKey(key), f)
	c.registry.Unregister(key, f)
	c.metrics.SetOpenFeeds(c.registry.Len())
	c.cleanUp()
}

// discard releases the bindings of a feed that is not open.
func (c *Client) discard(f *Feed) {
	wasError := f.HasError()
	f.markState(core.FeedStateClosed)
	if wasError {
		c.dispatcher.Dispatch(closeEvent{key: f.idKey, feed: f})
	}
	f.unbindListeners()
	c.cleanUp()
}

// cleanUp releases the connection once no feed is registered.
func (c *Client) cleanUp() {
	if !c.registry.IsEmpty() || c.openInFlight > 0 {
		return
	}
	if c.releaseConnection() {
		c.metrics.ConnectionReleased()
	}
	if c.closing.Load() {
		c.signalDrained()
	}
}

func (c *Client) releaseConnection() bool {
	conn := c.connection()
	if conn == nil {
		return false
	}
	c.setConnection(nil)
	c.connGen = 0
	c.logger.Info("releasing connection, no open feeds")
	if !c.writer.Post(func() { c.closeConn(conn) }) {
		c.closeConn(conn)
	}
	return true
}

func (c *Client) closeConn(conn core.Connection) {
	if err := conn.Close(); err != nil {
		c.logger.Debug("connection close", "error", err)
	}
}

func (c *Client) signalDrained() {
	c.drainOnce.Do(func() { close(c.drained) })
}

func (c *Client) send(f *Feed, msg any) {
	conn := f.connection()
	if !f.IsOpen() || conn == nil {
		f.logger.Error("feed is closed, cannot send message")
		return
	}
	s := f.Settings()
	if s.FeedType == core.FeedTypeOutput {
		f.logger.Warn("send on an output feed has no effect", "feed_key", s.FeedKey)
		return
	}

	out, err := c.validator.Prepare(s.MsgContract, msg)
	if err != nil {
		c.metrics.ValidationFailed()
		c.metrics.FeedError("validation")
		f.logger.Warn("message rejected", "feed_key", s.FeedKey, "error", err)
		c.dispatcher.Dispatch(errorEvent{key: f.idKey, feed: f, err: err})
		return
	}

	params := map[string]any{"feedKey": s.FeedKey, "msg": out}
	if wk := f.getWriteKey(); wk != "" {
		params["writeKey"] = wk
	}
	c.commands.Send(c.ctx, conn, command.Command{Path: core.PathMessageSend, Params: params}, func(res command.Result) {
		if res.Err != nil {
			f.logger.Error("error sending message", "feed_key", s.FeedKey, "error", res.Err)
			c.metrics.FeedError("send")
			c.dispatcher.Dispatch(errorEvent{key: f.idKey, feed: f, err: res.Err})
			return
		}
		c.metrics.MessageSent()
		c.dispatcher.Dispatch(messageSentEvent{key: f.idKey, feed: f, msg: out})
	})
}

func (c *Client) history(f *Feed, limit int, before time.Time, completion HistoryCompletion) {
	conn := f.connection()
	if !f.IsOpen() || conn == nil {
		f.logger.Error("feed is closed, cannot fetch history")
		return
	}
	if limit <= 0 {
		limit = c.opts.HistoryLimit
	}
	if before.IsZero() {
		before = time.Now()
	}
	key := f.FeedKey()
	params := map[string]any{
		"feedKey": key,
		"limit":   limit,
		"sinceTS": before.UnixMilli(),
	}
	c.commands.Send(c.ctx, conn, command.Command{Path: core.PathMessageHistory, Params: params}, func(res command.Result) {
		var msgs []core.Message
		if err := res.Decode(&msgs); err != nil {
			f.logger.Error("error getting feed history", "feed_key", key, "error", err)
			c.metrics.FeedError("history")
			c.dispatcher.Dispatch(errorEvent{key: f.idKey, feed: f, err: err})
			return
		}
		dates := f.DateFields()
		for _, m := range msgs {
			contract.Rehydrate(m, dates)
		}
		c.dispatcher.Dispatch(historyEvent{key: f.idKey, feed: f, msgs: msgs})
		if completion != nil {
			completion(f, msgs)
		}
	})
}

// connReceiver binds inbound traffic to the dial generation that produced it.
type connReceiver struct {
	client *Client
	gen    uint64
}

func (r *connReceiver) Receive(frame core.Frame) {
	c := r.client
	c.frames.Log(frame, logging.DirectionIn)
	switch frame.Type {
	case core.FrameResponse, core.FrameError:
		c.commands.Resolve(frame)
	case core.FramePush:
		c.post(func() { c.deliverPush(r.gen, frame) })
	default:
		c.logger.Warn("unexpected frame type", "type", frame.Type)
	}
}

func (r *connReceiver) Disconnected(err error) {
	c := r.client
	c.post(func() { c.connectionLost(r.gen, err) })
}

func (c *Client) deliverPush(gen uint64, frame core.Frame) {
	if gen != c.connGen {
		return
	}
	if n := c.dispatcher.Dispatch(pushEvent{key: dispatch.FeedKey(frame.FeedKey), payload: frame.Payload}); n == 0 {
		c.logger.Debug("push for unknown feed key", "feed_key", frame.FeedKey)
	}
}

func (c *Client) connectionLost(gen uint64, err error) {
	if gen != c.connGen || c.connection() == nil {
		return
	}
	c.logger.Warn("connection lost", "transport", c.opts.Dialer.Name(), "error", err)
	old := c.connection()
	c.setConnection(nil)
	c.connGen = 0
	c.writer.Post(func() { c.closeConn(old) })

	for _, f := range c.registry.All() {
		f.setConnection(nil)
	}
	c.commands.FailAll(fmt.Errorf("%w: %v", core.ErrConnectionLost, err))

	if c.closing.Load() || !c.opts.Reconnect.Enabled || c.registry.IsEmpty() {
		c.hardLoss()
		return
	}
	c.reconnect()
}

func (c *Client) reconnect() {
	policy := c.opts.Reconnect
	cfg := retry.DefaultConfig()
	if policy.MaxAttempts > 0 {
		cfg.MaxAttempts = policy.MaxAttempts
	}
	if policy.InitialBackoff > 0 {
		cfg.InitialDelay = policy.InitialBackoff
	}
	if policy.MaxBackoff > 0 {
		cfg.MaxDelay = policy.MaxBackoff
	}

	c.dialing = true
	c.gen++
	gen := c.gen
	rcv := &connReceiver{client: c, gen: gen}
	c.logger.Info("reconnecting", "max_attempts", cfg.MaxAttempts)

	go func() {
		var conn core.Connection
		err := retry.Do(c.ctx, cfg, func(attempt int) error {
			var dialErr error
			conn, dialErr = c.opts.Dialer.Dial(c.ctx, rcv)
			if dialErr != nil {
				c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", dialErr)
			}
			return dialErr
		})
		if !c.post(func() { c.reconnected(gen, conn, err) }) && conn != nil && err == nil {
			_ = conn.Close()
		}
	}()
}

func (c *Client) reconnected(gen uint64, conn core.Connection, err error) {
	c.dialing = false
	if err != nil {
		c.metrics.Reconnected(false)
		c.logger.Error("reconnect failed", "error", err)
		c.hardLoss()
		c.flushWaiters(nil, err)
		return
	}
	c.metrics.Reconnected(true)
	c.setConnection(conn)
	c.connGen = gen

	for _, key := range c.registry.Keys() {
		feeds := c.registry.FeedsForKey(key)
		if len(feeds) == 0 {
			continue
		}
		for _, f := range feeds {
			f.setConnection(conn)
		}
		c.reopen(feeds[0], key, conn)
	}
	c.flushWaiters(conn, nil)
	c.cleanUp()
}

// reopen recreates the session behind key after a reconnect. Listener
// bindings and settings are kept. On failure every feed sharing the key is
// marked as errored and told the feed closed.
func (c *Client) reopen(f *Feed, key string, conn core.Connection) {
	f.logger.Info("reopening feed", "feed_key", key)
	params := map[string]any{"feed": f.Settings()}
	if wk := f.getWriteKey(); wk != "" {
		params["writeKey"] = wk
	}
	c.commands.Send(c.ctx, conn, command.Command{Path: core.PathSessionCreate, Params: params}, func(res command.Result) {
		if res.Err == nil {
			var s core.FeedSettings
			if err := res.Decode(&s); err == nil && s.FeedKey != "" && s.FeedKey != key {
				f.logger.Warn("session reopened under a different feed key", "feed_key", key, "new_feed_key", s.FeedKey)
			}
			f.logger.Debug("feed reopened", "feed_key", key)
			return
		}

		f.logger.Error("error reopening feed", "feed_key", key, "error", res.Err)
		c.metrics.FeedError("reopen")
		for _, sib := range c.registry.RemoveKey(key) {
			sib.markState(core.FeedStateError)
			c.dispatcher.Unregister(dispatch.FeedKey(key), sib)
			c.dispatcher.Dispatch(closeEvent{key: sib.idKey, feed: sib})
		}
		c.metrics.SetOpenFeeds(c.registry.Len())
		c.cleanUp()
	})
}

// hardLoss drops every open feed after the connection is gone for good.
func (c *Client) hardLoss() {
	feeds := c.registry.Clear()
	for _, f := range feeds {
		key := f.markState(core.FeedStateClosed)
		c.dispatcher.Unregister(dispatch.FeedKey(key), f)
		c.dispatcher.Dispatch(closeEvent{key: f.idKey, feed: f})
		f.unbindListeners()
	}
	c.metrics.SetOpenFeeds(0)
	if len(feeds) > 0 {
		c.logger.Warn("connection lost, feeds closed", "feeds", len(feeds))
	}
	if c.closing.Load() {
		c.signalDrained()
	}
}
