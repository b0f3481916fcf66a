package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
)

// SignalR hub method and callback names spoken by the merchants hub.
const (
	actionSubscribeToServer     = "SubscribeToServer"
	actionGetActiveGroups       = "GetKnownActiveMerchantGroups"
	actionHasNewerClient        = "HasNewerClient"
	callbackUpdateMerchantGroup = "UpdateMerchantGroup"
	callbackUpdateVoteTotal     = "UpdateVoteTotal"
	callbackUpdateVotes         = "UpdateVotes"
)

const (
	messageTypeInvocation = 1
	messageTypeCompletion = 3
	messageTypePing       = 6
	messageTypeClose      = 7

	clientVersion = 1
	invokeTimeout = 30 * time.Second
)

// SignalR frames are JSON documents terminated by the record separator.
const recordSeparator = 0x1e

type hubMessage struct {
	Type         int               `json:"type"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	InvocationID string            `json:"invocationId,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type completion struct {
	result json.RawMessage
	err    error
}

// HubConnection owns the lifecycle of the merchants hub subscription:
// connect, per-server subscribe handshakes, heartbeat, the periodic
// active-list poll, and the automatic reconnect walk. Raw hub callbacks
// are translated into typed events on the supervisor's queue.
type HubConnection struct {
	cfg    *Config
	events chan<- Event
	alerts *AlertSink

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	handlers  map[string]func(args []json.RawMessage)
	pending   map[string]chan completion
	stopTimer context.CancelFunc

	nextInvocationID atomic.Uint64
}

func NewHubConnection(cfg *Config, events chan<- Event, alerts *AlertSink) *HubConnection {
	return &HubConnection{
		cfg:      cfg,
		events:   events,
		alerts:   alerts,
		handlers: map[string]func(args []json.RawMessage){},
		pending:  map[string]chan completion{},
	}
}

// IsConnected reports whether the push subscription is currently live.
func (h *HubConnection) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Initialize opens the connection, runs the per-server subscribe
// handshakes and installs the heartbeat and poll timers. Idempotent: when
// already connected it reports false without reconnecting. On failure it
// clears its timers and publishes a HubConnectionErrorEvent so the
// supervisor can retry after a delay.
func (h *HubConnection) Initialize(ctx context.Context) (bool, error) {
	h.mu.Lock()
	if h.connected {
		h.mu.Unlock()
		return false, nil
	}
	h.closing = false
	h.mu.Unlock()

	slog.Info("Connecting to MerchantsHub", "url", h.cfg.MerchantsHubURL)

	conn, err := h.dial(ctx)
	if err != nil {
		h.clearTimers()
		h.alerts.Notify(ctx, "MerchantsHub - initialize", err)
		h.events <- HubConnectionErrorEvent{Err: err}
		return false, err
	}

	h.mu.Lock()
	h.conn = conn
	h.connected = true
	h.mu.Unlock()

	slog.Info("Successfully connected to MerchantsHub")

	go h.readLoop(conn)

	if err := h.initializeSubscriptions(ctx); err != nil {
		h.teardownConn()
		h.clearTimers()
		h.alerts.Notify(ctx, "MerchantsHub - initialize", err)
		h.events <- HubConnectionErrorEvent{Err: err}
		return false, err
	}

	h.startTimers()
	slog.Info("Initialized MerchantsHub subscriptions")
	return true, nil
}

// Subscribe registers a handler for one push callback kind. Reports false
// without registering when the connection is not live; callers must not
// assume the subscription took effect merely because the call returned.
func (h *HubConnection) Subscribe(target string, handler func(args []json.RawMessage)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return false
	}
	h.handlers[target] = handler
	return true
}

// PollActiveMerchants asks the hub for the currently active merchant
// groups of every configured server. Never returns an error: a failed
// call degrades to an empty list with the error flag set, plus an alert.
func (h *HubConnection) PollActiveMerchants(ctx context.Context) ([]MerchantGroup, bool) {
	var groups []MerchantGroup
	for _, server := range h.cfg.Servers {
		var result []MerchantGroup
		if err := h.invoke(ctx, actionGetActiveGroups, &result, server); err != nil {
			slog.Error("Error fetching active merchants list", "server", server, "error", err)
			h.alerts.Notify(ctx, "getActiveMerchantsList", err)
			return nil, true
		}
		for i := range result {
			if result[i].Server == "" {
				result[i].Server = server
			}
		}
		groups = append(groups, result...)
	}
	return groups, false
}

// Close tears the connection down deliberately, without triggering the
// reconnect walk.
func (h *HubConnection) Close() {
	h.mu.Lock()
	h.closing = true
	conn := h.conn
	h.mu.Unlock()

	h.clearTimers()
	if conn != nil {
		conn.Close()
	}

	h.mu.Lock()
	h.connected = false
	h.conn = nil
	h.mu.Unlock()
}

func (h *HubConnection) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.cfg.MerchantsHubURL, nil)
	if err != nil {
		return nil, oops.With("url", h.cfg.MerchantsHubURL).Wrap(err)
	}

	// SignalR handshake: the server answers with an empty JSON object, or
	// an error field when the protocol is rejected.
	handshake := append([]byte(`{"protocol":"json","version":1}`), recordSeparator)
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		conn.Close()
		return nil, oops.With("context", "handshake write").Wrap(err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, oops.With("context", "handshake read").Wrap(err)
	}

	var response struct {
		Error string `json:"error"`
	}
	frames := bytes.Split(data, []byte{recordSeparator})
	if err := json.Unmarshal(frames[0], &response); err != nil {
		conn.Close()
		return nil, oops.With("context", "handshake response").Wrap(err)
	}
	if response.Error != "" {
		conn.Close()
		return nil, oops.Errorf("handshake rejected: %s", response.Error)
	}

	return conn, nil
}

// initializeSubscriptions runs the per-server subscribe handshake and
// installs the push callback handlers. Must be re-run after every
// reconnect, registrations do not survive one.
func (h *HubConnection) initializeSubscriptions(ctx context.Context) error {
	for _, server := range h.cfg.Servers {
		if err := h.invoke(ctx, actionSubscribeToServer, nil, server); err != nil {
			return oops.With("server", server).Wrap(err)
		}
		slog.Info("Subscribed to MerchantsHub server", "server", server)
	}

	h.Subscribe(callbackUpdateMerchantGroup, func(args []json.RawMessage) {
		if len(args) < 2 {
			return
		}
		var server string
		var group MerchantGroup
		if err := json.Unmarshal(args[0], &server); err != nil {
			slog.Error("Malformed merchant group callback", "error", err)
			return
		}
		if err := json.Unmarshal(args[1], &group); err != nil {
			slog.Error("Malformed merchant group callback", "error", err)
			return
		}
		slog.Info("Received found merchant event", "server", server, "merchant", group.MerchantName)
		h.events <- MerchantFoundEvent{Server: server, Group: group}
	})

	h.Subscribe(callbackUpdateVoteTotal, func(args []json.RawMessage) {
		if len(args) < 2 {
			return
		}
		var merchantID string
		var votes int
		if err := json.Unmarshal(args[0], &merchantID); err != nil {
			slog.Error("Malformed vote callback", "error", err)
			return
		}
		if err := json.Unmarshal(args[1], &votes); err != nil {
			slog.Error("Malformed vote callback", "error", err)
			return
		}
		slog.Info("Received merchant votes updated event", "merchant_id", merchantID, "votes", votes)
		h.events <- VotesChangedEvent{MerchantID: merchantID, Votes: votes}
	})

	// Batch variant used by some hub deployments.
	h.Subscribe(callbackUpdateVotes, func(args []json.RawMessage) {
		if len(args) < 1 {
			return
		}
		var updates []VoteUpdate
		if err := json.Unmarshal(args[0], &updates); err != nil {
			slog.Error("Malformed vote batch callback", "error", err)
			return
		}
		for _, update := range updates {
			h.events <- VotesChangedEvent{MerchantID: update.ID, Votes: update.Votes}
		}
	})

	return nil
}

func (h *HubConnection) startTimers() {
	h.clearTimers()

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.stopTimer = cancel
	h.mu.Unlock()

	go h.heartbeatLoop(ctx)
	go h.pollLoop(ctx)
}

func (h *HubConnection) clearTimers() {
	h.mu.Lock()
	cancel := h.stopTimer
	h.stopTimer = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// heartbeatLoop keeps the hub session alive. Failures are logged and
// alerted, never fatal to the connection.
func (h *HubConnection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.invoke(ctx, actionHasNewerClient, nil, clientVersion); err != nil {
				slog.Error("Heartbeat failed", "error", err)
				h.alerts.Notify(ctx, "hasNewerClient", err)
			}
		}
	}
}

func (h *HubConnection) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("Fetching active merchants list")
			groups, errored := h.PollActiveMerchants(ctx)
			h.events <- ActiveMerchantsEvent{Groups: groups, Err: errored}
		}
	}
}

func (h *HubConnection) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.mu.Lock()
			closing := h.closing
			h.mu.Unlock()
			if closing {
				return
			}
			h.reconnect(err)
			return
		}

		for _, frame := range bytes.Split(data, []byte{recordSeparator}) {
			if len(frame) == 0 {
				continue
			}
			h.handleFrame(frame, conn)
		}
	}
}

func (h *HubConnection) handleFrame(frame []byte, conn *websocket.Conn) {
	var message hubMessage
	if err := json.Unmarshal(frame, &message); err != nil {
		slog.Error("Malformed hub frame", "error", err)
		return
	}

	switch message.Type {
	case messageTypeInvocation:
		h.mu.Lock()
		handler := h.handlers[message.Target]
		h.mu.Unlock()
		if handler == nil {
			slog.Debug("No handler for hub callback", "target", message.Target)
			return
		}
		handler(message.Arguments)

	case messageTypeCompletion:
		h.mu.Lock()
		ch := h.pending[message.InvocationID]
		delete(h.pending, message.InvocationID)
		h.mu.Unlock()
		if ch == nil {
			return
		}
		if message.Error != "" {
			ch <- completion{err: oops.Errorf("hub invocation failed: %s", message.Error)}
		} else {
			ch <- completion{result: message.Result}
		}

	case messageTypePing:
		// Keep-alive from the server, nothing to do.

	case messageTypeClose:
		conn.Close()
	}
}

// reconnect walks the fixed backoff list trying to re-establish the
// connection and its subscriptions. Exhaustion escalates to the
// supervisor via HubConnectionErrorEvent.
func (h *HubConnection) reconnect(cause error) {
	h.teardownConn()
	h.events <- HubReconnectingEvent{Reason: cause}

	for _, delay := range h.cfg.ReconnectBackoff() {
		slog.Info("Reconnecting to MerchantsHub", "delay", delay)
		time.Sleep(delay)

		h.mu.Lock()
		if h.closing {
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), invokeTimeout)
		conn, err := h.dial(ctx)
		if err != nil {
			cancel()
			slog.Error("Reconnect attempt failed", "error", err)
			continue
		}

		h.mu.Lock()
		h.conn = conn
		h.connected = true
		h.handlers = map[string]func(args []json.RawMessage){}
		h.mu.Unlock()

		go h.readLoop(conn)

		if err := h.initializeSubscriptions(ctx); err != nil {
			cancel()
			slog.Error("Resubscribe after reconnect failed", "error", err)
			h.teardownConn()
			continue
		}
		cancel()

		slog.Info("Reconnected to MerchantsHub")
		h.events <- HubReconnectedEvent{}
		return
	}

	h.clearTimers()
	h.events <- HubConnectionErrorEvent{Err: oops.Wrap(cause)}
}

func (h *HubConnection) teardownConn() {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.connected = false
	pending := h.pending
	h.pending = map[string]chan completion{}
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, ch := range pending {
		ch <- completion{err: ErrHubNotConnected}
	}
}

// invoke performs a request/response hub call and decodes the completion
// result into result when non-nil.
func (h *HubConnection) invoke(ctx context.Context, target string, result any, args ...any) error {
	h.mu.Lock()
	if !h.connected || h.conn == nil {
		h.mu.Unlock()
		return ErrHubNotConnected
	}
	conn := h.conn
	id := strconv.FormatUint(h.nextInvocationID.Add(1), 10)
	ch := make(chan completion, 1)
	h.pending[id] = ch
	h.mu.Unlock()

	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return oops.With("target", target).Wrap(err)
		}
		rawArgs = append(rawArgs, data)
	}

	payload, err := json.Marshal(hubMessage{
		Type:         messageTypeInvocation,
		Target:       target,
		Arguments:    rawArgs,
		InvocationID: id,
	})
	if err != nil {
		return oops.With("target", target).Wrap(err)
	}

	h.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, append(payload, recordSeparator))
	h.writeMu.Unlock()
	if err != nil {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return oops.With("target", target).Wrap(err)
	}

	timeout := time.NewTimer(invokeTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return ctx.Err()
	case <-timeout.C:
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return oops.With("target", target).Errorf("hub invocation timed out")
	case done := <-ch:
		if done.err != nil {
			return done.err
		}
		if result != nil && len(done.result) > 0 {
			if err := json.Unmarshal(done.result, result); err != nil {
				return oops.With("target", target).Wrap(err)
			}
		}
		return nil
	}
}
