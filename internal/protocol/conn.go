// Package protocol implements the JSON-RPC 2.0 connection spoken between the test client and
// the test language server, with the typed messages exchanged over it.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const jsonrpcVersion = "2.0"

// message is the union of request, notification and response envelopes
type message struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

func (m *message) isRequest() bool { return m.Method != "" && len(m.ID) > 0 }
func (m *message) isNotification() bool { return m.Method != "" && len(m.ID) == 0 }

// RequestHandler answers a request. Returning a *ResponseError sends it as is.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler consumes a notification
type NotificationHandler func(ctx context.Context, params json.RawMessage)

type cancelRequestParams struct {
	ID json.RawMessage `json:"id"`
}

// Conn is a duplex JSON-RPC connection. Both sides may issue requests and notifications.
// Incoming requests each run on their own goroutine with a cancellable context; incoming
// notifications are dispatched one at a time in arrival order.
type Conn struct {
	stream MessageStream
	log    zerolog.Logger

	writeLock sync.Mutex

	mu            sync.Mutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	pending       map[string]chan *message
	executors     map[string]context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewConn wraps stream. Handlers must be registered before Run.
func NewConn(stream MessageStream, log zerolog.Logger) *Conn {
	return &Conn{
		stream:        stream,
		log:           log.With().Str("component", "jsonrpc").Logger(),
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		pending:       make(map[string]chan *message),
		executors:     make(map[string]context.CancelFunc),
		done:          make(chan struct{}),
	}
}

// HandleRequest registers the handler for a request method
func (c *Conn) HandleRequest(method string, h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[method] = h
}

// HandleNotification registers the handler for a notification method
func (c *Conn) HandleNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[method] = h
}

// Done is closed once the connection is down
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that brought the connection down, nil for a clean close
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Close tears the connection down. Pending calls fail with ErrConnClosed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		if closeErr := c.stream.Close(); closeErr != nil {
			c.log.Debug().Err(closeErr).Msg("close stream")
		}

		c.mu.Lock()
		for id, cancel := range c.executors {
			cancel()
			delete(c.executors, id)
		}
		c.mu.Unlock()
	})
}

// Run reads messages until the stream ends, ctx is done or Close is called.
// A peer hanging up is a clean shutdown and yields nil.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			c.shutdown(ctx.Err())
		case <-c.done:
		}
	}()

	for {
		data, err := c.stream.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return c.err
			default:
			}
			if isClosedErr(err) {
				c.shutdown(nil)
				return nil
			}
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				c.log.Warn().Err(err).Msg("dropping unreadable message")
				continue
			}
			c.shutdown(err)
			return err
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message")
			continue
		}

		switch {
		case msg.isRequest():
			c.handleRequest(ctx, &msg)
		case msg.isNotification():
			c.handleNotification(ctx, &msg)
		case len(msg.ID) > 0:
			c.handleResponse(&msg)
		default:
			c.log.Warn().Msg("dropping message without method or id")
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "close 1000")
}

func (c *Conn) handleRequest(ctx context.Context, msg *message) {
	key := idKey(msg.ID)

	c.mu.Lock()
	handler, ok := c.requests[msg.Method]
	c.mu.Unlock()
	if !ok {
		c.reply(msg.ID, nil, NewError(MethodNotFoundCode, "method not found: %s", msg.Method))
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.executors[key] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.executors, key)
			c.mu.Unlock()
			cancel()
		}()

		result, err := c.execute(reqCtx, msg.Method, handler, msg.Params)
		if err == nil && reqCtx.Err() != nil && ctx.Err() == nil {
			err = NewError(RequestCancelledCode, "request %s cancelled", msg.Method)
		}
		c.reply(msg.ID, result, err)
	}()
}

func (c *Conn) execute(ctx context.Context, method string, handler RequestHandler, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("method", method).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("handler panicked")
			err = NewError(InternalErrorCode, "internal error in %s", method)
		}
	}()
	return handler(ctx, params)
}

func (c *Conn) handleNotification(ctx context.Context, msg *message) {
	if msg.Method == MethodCancelRequest {
		var params cancelRequestParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			c.mu.Lock()
			cancel, ok := c.executors[idKey(params.ID)]
			c.mu.Unlock()
			if ok {
				cancel()
			}
		}
		return
	}

	c.mu.Lock()
	handler, ok := c.notifications[msg.Method]
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("method", msg.Method).Msg("no handler for notification")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("method", msg.Method).Interface("panic", r).Msg("notification handler panicked")
		}
	}()
	handler(ctx, msg.Params)
}

func (c *Conn) handleResponse(msg *message) {
	key := idKey(msg.ID)

	c.mu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("id", key).Msg("response for unknown request")
		return
	}
	ch <- msg
}

func (c *Conn) reply(id json.RawMessage, result interface{}, err error) {
	resp := &message{Jsonrpc: jsonrpcVersion, ID: id}
	if err != nil {
		resp.Error = asResponseError(err)
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Error = NewError(InternalErrorCode, "marshal result: %v", marshalErr)
		} else {
			resp.Result = data
		}
	}
	if writeErr := c.write(resp); writeErr != nil {
		c.log.Debug().Err(writeErr).Str("id", idKey(id)).Msg("write response")
	}
}

func (c *Conn) write(msg *message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.stream.WriteMessage(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Call sends a request and waits for its response, decoding the result into result when
// it is not nil. When ctx ends first the peer is asked to cancel and the call fails.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	rawID, _ := json.Marshal(uuid.NewString())
	key := idKey(rawID)

	ch := make(chan *message, 1)
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()

	dropPending := func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}

	if err := c.write(&message{Jsonrpc: jsonrpcVersion, ID: rawID, Method: method, Params: rawParams}); err != nil {
		dropPending()
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		dropPending()
		_ = c.Notify(MethodCancelRequest, cancelRequestParams{ID: rawID})
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %w", method, ErrTimeout, ctx.Err())
		}
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		dropPending()
		return fmt.Errorf("%s: %w", method, ErrConnClosed)
	}
}

// Notify sends a notification
func (c *Conn) Notify(method string, params interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return c.write(&message{Jsonrpc: jsonrpcVersion, Method: method, Params: rawParams})
}

// idKey normalises a raw id so string and numeric ids can key maps
func idKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
