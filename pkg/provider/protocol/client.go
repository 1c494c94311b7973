package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// ErrConnectionLost indicates the provider channel failed before a
// call completed. The backing state of an interrupted Create or Delete
// is indeterminate; the caller must reconcile with a subsequent Read.
var ErrConnectionLost = errors.New("provider connection lost")

// ErrClientClosed indicates the client was closed locally.
var ErrClientClosed = errors.New("provider client is closed")

// ClientConfig contains client configuration options.
type ClientConfig struct {
	// Conn is the protocol channel to the provider.
	Conn io.ReadWriter

	// Closer, if set, is closed when the client shuts down. Pass the
	// connection itself when it owns OS resources.
	Closer io.Closer

	// StartupTimeout bounds the wait for the provider's READY message.
	// Defaults to 10 seconds.
	StartupTimeout time.Duration

	// Logger is the parent logger; a component child is derived.
	Logger *telemetry.Logger
}

// callOutcome is the terminal state of one in-flight call.
type callOutcome struct {
	payload json.RawMessage
	err     error
}

// Client is the engine side of the protocol. It implements
// provider.Provider over a channel, correlating concurrent calls by
// ID, and reconstructs the structured error shapes the server encodes.
type Client struct {
	enc    *Encoder
	dec    *Decoder
	closer io.Closer
	logger *telemetry.Logger

	info provider.Info

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan callOutcome
	closed  bool
	readErr error

	readerDone chan struct{}
}

// NewClient connects to a provider over the given channel and waits
// for its READY announcement.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	c := &Client{
		enc:        NewEncoder(cfg.Conn),
		dec:        NewDecoder(cfg.Conn),
		closer:     cfg.Closer,
		logger:     logger.NewComponentLogger("protocol.client"),
		pending:    make(map[uint64]chan callOutcome),
		readerDone: make(chan struct{}),
	}

	ready, err := c.awaitReady(cfg.StartupTimeout)
	if err != nil {
		return nil, err
	}
	if ready.Protocol != ProtocolVersion {
		return nil, fmt.Errorf("provider speaks protocol %d, want %d", ready.Protocol, ProtocolVersion)
	}
	c.info = ready.Info

	go c.readLoop()

	c.logger.WithProvider(c.info.Name, c.info.Version).Debug("provider connected")
	return c, nil
}

// awaitReady reads the READY handshake with a timeout.
func (c *Client) awaitReady(timeout time.Duration) (*ReadyMessage, error) {
	readyCh := make(chan *ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.dec.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready ReadyMessage
		if err := ParsePayload(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		return nil, fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		return ready, nil
	}
}

// readLoop delivers responses to their callers until the channel
// fails or closes, then fails every remaining in-flight call.
func (c *Client) readLoop() {
	defer close(c.readerDone)

	for {
		msg, err := c.dec.Decode()
		if err != nil {
			c.failAll(err)
			return
		}

		switch msg.Type {
		case MessageTypeResult:
			var result ResultMessage
			if err := ParsePayload(msg.Data, &result); err != nil {
				c.logger.WithError(err).Warn("malformed result message")
				continue
			}
			c.deliver(result.CallID, callOutcome{payload: result.Payload})

		case MessageTypeError:
			var errMsg ErrorMessage
			if err := ParsePayload(msg.Data, &errMsg); err != nil {
				c.logger.WithError(err).Warn("malformed error message")
				continue
			}
			if errMsg.CallID == 0 {
				c.logger.WithField("code", errMsg.Code).Warn(errMsg.Message)
				continue
			}
			c.deliver(errMsg.CallID, callOutcome{err: decodeWireError(&errMsg)})

		case MessageTypeExit:
			c.failAll(io.EOF)
			return

		default:
			c.logger.WithField("type", string(msg.Type)).Warn("unexpected message from provider")
		}
	}
}

// deliver hands an outcome to the waiting caller, if it is still
// waiting.
func (c *Client) deliver(callID uint64, outcome callOutcome) {
	c.mu.Lock()
	ch, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	c.mu.Unlock()

	if ok {
		ch <- outcome
	}
}

// failAll terminates every in-flight call with a connection error.
func (c *Client) failAll(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan callOutcome)
	closed := c.closed
	c.readErr = cause
	c.mu.Unlock()

	for _, ch := range pending {
		if closed {
			ch <- callOutcome{err: ErrClientClosed}
		} else {
			// The channel died under the call: classify as transient
			// so the orchestration layer may retry after reconciling.
			ch <- callOutcome{err: provider.NewTransientError(ErrConnectionLost.Error(), cause)}
		}
	}
}

// call issues one request and decodes its response into out (which may
// be nil for empty responses).
func (c *Client) call(ctx context.Context, method Method, payload any, out any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.readErr != nil {
		readErr := c.readErr
		c.mu.Unlock()
		return provider.NewTransientError(ErrConnectionLost.Error(), readErr)
	}
	id := c.nextID.Add(1)
	ch := make(chan callOutcome, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	var payloadBytes json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.abandon(id)
			return fmt.Errorf("failed to marshal %s request: %w", method, err)
		}
		payloadBytes = b
	}

	if err := c.enc.EncodeCall(&CallMessage{ID: id, Method: method, Payload: payloadBytes}); err != nil {
		c.abandon(id)
		return provider.NewTransientError(fmt.Sprintf("failed to send %s call", method), err)
	}

	select {
	case <-ctx.Done():
		c.abandon(id)
		return ctx.Err()
	case outcome := <-ch:
		if outcome.err != nil {
			return outcome.err
		}
		if out != nil && len(outcome.payload) > 0 {
			if err := json.Unmarshal(outcome.payload, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", method, err)
			}
		}
		return nil
	}
}

// abandon drops a pending call registration, e.g. on cancellation.
func (c *Client) abandon(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// PluginInfo returns the metadata announced in the READY handshake,
// without another round trip.
func (c *Client) PluginInfo() provider.Info {
	return c.info
}

// Configure implements provider.Provider.
func (c *Client) Configure(ctx context.Context, req provider.ConfigureRequest) error {
	return c.call(ctx, MethodConfigure, req, nil)
}

// Check implements provider.Provider.
func (c *Client) Check(ctx context.Context, req provider.CheckRequest) (*provider.CheckResponse, error) {
	var resp provider.CheckResponse
	if err := c.call(ctx, MethodCheck, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Diff implements provider.Provider.
func (c *Client) Diff(ctx context.Context, req provider.DiffRequest) (*provider.DiffResult, error) {
	var resp provider.DiffResult
	if err := c.call(ctx, MethodDiff, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Create implements provider.Provider.
func (c *Client) Create(ctx context.Context, req provider.CreateRequest) (*provider.CreateResponse, error) {
	var resp provider.CreateResponse
	if err := c.call(ctx, MethodCreate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Read implements provider.Provider.
func (c *Client) Read(ctx context.Context, req provider.ReadRequest) (*provider.ReadResponse, error) {
	var resp provider.ReadResponse
	if err := c.call(ctx, MethodRead, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update implements provider.Provider.
func (c *Client) Update(ctx context.Context, req provider.UpdateRequest) (*provider.UpdateResponse, error) {
	var resp provider.UpdateResponse
	if err := c.call(ctx, MethodUpdate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete implements provider.Provider.
func (c *Client) Delete(ctx context.Context, req provider.DeleteRequest) error {
	return c.call(ctx, MethodDelete, req, nil)
}

// Invoke implements provider.Provider.
func (c *Client) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	var resp provider.InvokeResponse
	if err := c.call(ctx, MethodInvoke, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Info implements provider.Provider. It asks the provider rather than
// returning the handshake copy, since Info must be callable at any
// time and reflect the provider's current answer.
func (c *Client) Info(ctx context.Context) (provider.Info, error) {
	var resp provider.Info
	if err := c.call(ctx, MethodInfo, nil, &resp); err != nil {
		return provider.Info{}, err
	}
	return resp, nil
}

// Close sends EXIT, closes the underlying channel if one was provided,
// and waits for the reader to drain.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Best effort: the peer may already be gone.
	_ = c.enc.EncodeExit(&ExitMessage{Reason: "client closed"})

	var closeErr error
	if c.closer != nil {
		closeErr = c.closer.Close()
	}

	<-c.readerDone
	return closeErr
}
