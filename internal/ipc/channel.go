package ipc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/cartonerr"
)

// outgoingWriteQueueSize bounds the writer's queue; producers that
// overrun it suspend until slots free (spec.md §5 Backpressure).
const outgoingWriteQueueSize = 256

// EventHandler processes a one-way message (e.g. Log) that carries no
// correlation id worth waiting on.
type EventHandler func(Envelope)

// Channel is one bidirectional, multiplexed connection to a runner
// subprocess: one writer goroutine serializing frames, one reader
// goroutine dispatching by (ChannelID, CorrelationID), and per-channel
// dispatch tables so a slow VFS stream never head-of-line-blocks an
// unrelated RPC (spec.md §4.7, §5).
type Channel struct {
	conn io.ReadWriteCloser
	log  zerolog.Logger

	writeQueue chan Envelope
	tables     map[ChannelID]*dispatchTable
	events     map[Kind]EventHandler
	eventsMu   sync.RWMutex

	nextCorrID atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  atomic.Value // error
}

// NewChannel wraps conn (a Unix socket, pipe pair, or any
// io.ReadWriteCloser) and starts its writer/reader goroutines.
func NewChannel(conn io.ReadWriteCloser, log zerolog.Logger) *Channel {
	c := &Channel{
		conn:       conn,
		log:        log,
		writeQueue: make(chan Envelope, outgoingWriteQueueSize),
		tables: map[ChannelID]*dispatchTable{
			ChannelRpc:        newDispatchTable(),
			ChannelFileSystem: newDispatchTable(),
			ChannelCartonData: newDispatchTable(),
		},
		events: make(map[Kind]EventHandler),
		closed: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// OnEvent registers handler for one-way messages of the given kind
// (e.g. KindLog).
func (c *Channel) OnEvent(kind Kind, handler EventHandler) {
	c.eventsMu.Lock()
	c.events[kind] = handler
	c.eventsMu.Unlock()
}

// NextCorrelationID allocates a fresh, process-local correlation id.
func (c *Channel) NextCorrelationID() uint64 {
	return c.nextCorrID.Add(1)
}

func (c *Channel) writeLoop() {
	for env := range c.writeQueue {
		if err := WriteFrame(c.conn, env); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Channel) readLoop() {
	for {
		env, err := ReadFrame(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.fail(cartonerr.New(cartonerr.KindIpcProtocolError, "channel closed by peer"))
			} else {
				c.fail(err)
			}
			return
		}
		table, ok := c.tables[env.Channel]
		if !ok {
			c.fail(cartonerr.New(cartonerr.KindIpcProtocolError, "unknown channel id in frame"))
			return
		}
		if table.deliver(env.CorrelationID, env) {
			continue
		}
		c.eventsMu.RLock()
		handler, ok := c.events[env.Kind]
		c.eventsMu.RUnlock()
		if ok {
			handler(env)
			continue
		}
		c.log.Warn().Uint8("channel", uint8(env.Channel)).Uint64("correlation_id", env.CorrelationID).Msg("dropping ipc frame with no waiting caller")
	}
}

// fail terminates the channel: closes the connection, fails every
// pending call across every channel table, and records the first error
// (spec.md §4.7 Fatal conditions).
func (c *Channel) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr.Store(err)
		close(c.closed)
		_ = c.conn.Close()
		payload, _ := EncodePayload(ErrorResponse{Message: err.Error()})
		for _, t := range c.tables {
			t.failAll(payload)
		}
	})
}

// Err returns the error that terminated the channel, if any.
func (c *Channel) Err() error {
	if v := c.closeErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done is closed when the channel has terminated.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// Close shuts the channel down cleanly from this side.
func (c *Channel) Close() error {
	c.fail(cartonerr.New(cartonerr.KindIpcCancelled, "channel closed locally"))
	return nil
}

func (c *Channel) send(ctx context.Context, env Envelope) error {
	select {
	case c.writeQueue <- env:
		return nil
	case <-c.closed:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call issues a request/response RPC on channelID and decodes the
// response payload into result. Cancelling ctx abandons the call: the
// dispatch table entry is released and any late response is discarded
// (spec.md §5 Cancellation).
func (c *Channel) Call(ctx context.Context, channelID ChannelID, kind Kind, request any, result any) error {
	table := c.tables[channelID]
	corrID := c.NextCorrelationID()
	respCh := table.register(corrID)
	defer table.unregister(corrID)

	payload, err := EncodePayload(request)
	if err != nil {
		return err
	}
	if err := c.send(ctx, Envelope{Channel: channelID, CorrelationID: corrID, Kind: kind, Payload: payload}); err != nil {
		return err
	}

	select {
	case env, ok := <-respCh:
		if !ok {
			return c.Err()
		}
		if env.Kind == KindErr {
			var errResp ErrorResponse
			_ = DecodePayload(env.Payload, &errResp)
			return cartonerr.New(cartonerr.KindInferRunnerError, errResp.Message)
		}
		if result == nil {
			return nil
		}
		return DecodePayload(env.Payload, result)
	case <-c.closed:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenStream issues a streaming RPC (spec.md §4.7 "a request opens a
// logical stream; subsequent frames carry ordered chunks terminated by
// an end marker") and returns the channel of raw response frames. The
// caller is responsible for recognizing the terminal chunk in its
// decoded payload type (e.g. FsReadChunk.End).
func (c *Channel) OpenStream(ctx context.Context, channelID ChannelID, kind Kind, request any) (<-chan Envelope, func(), error) {
	table := c.tables[channelID]
	corrID := c.NextCorrelationID()
	respCh := table.register(corrID)
	release := func() { table.unregister(corrID) }

	payload, err := EncodePayload(request)
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := c.send(ctx, Envelope{Channel: channelID, CorrelationID: corrID, Kind: kind, Payload: payload}); err != nil {
		release()
		return nil, nil, err
	}
	return respCh, release, nil
}

// Reply sends a response envelope for an inbound request identified by
// corrID, used by the side implementing an RPC handler (e.g. the VFS
// server answering FsRead requests from the runner).
func (c *Channel) Reply(ctx context.Context, channelID ChannelID, corrID uint64, kind Kind, response any) error {
	payload, err := EncodePayload(response)
	if err != nil {
		return err
	}
	return c.send(ctx, Envelope{Channel: channelID, CorrelationID: corrID, Kind: kind, Payload: payload})
}

// Emit sends a one-way event with no correlation id semantics beyond
// what the payload itself carries.
func (c *Channel) Emit(ctx context.Context, channelID ChannelID, kind Kind, payload any) error {
	return c.Reply(ctx, channelID, 0, kind, payload)
}
