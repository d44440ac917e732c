package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Handler processes one IPC channel request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// EventSource is implemented by handlers that accept subscribe requests.
type EventSource interface {
	// Subscribe registers a listener; cancel must be called to release it.
	Subscribe() (events <-chan Event, cancel func())
}

// Serve accepts unix-socket clients until context cancellation or listener close.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			serveConn(ctx, c, handler)
		}(conn)
	}
}

func serveConn(ctx context.Context, c net.Conn, handler Handler) {
	reader := bufio.NewReader(c)
	enc := json.NewEncoder(c)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	if req.Channel != ChannelSubscribe {
		_ = enc.Encode(handler.Handle(ctx, req))
		return
	}

	source, ok := handler.(EventSource)
	if !ok {
		_ = enc.Encode(Failure(req.ID, errors.New("subscriptions are not supported")))
		return
	}
	streamEvents(ctx, c, reader, enc, req, source)
}

// streamEvents acknowledges the subscription and writes events until the
// server stops or the client hangs up.
func streamEvents(ctx context.Context, c net.Conn, reader *bufio.Reader, enc *json.Encoder, req Request, source EventSource) {
	events, cancel := source.Subscribe()
	defer cancel()

	if err := enc.Encode(Success(req.ID, nil)); err != nil {
		return
	}

	hangup := make(chan struct{})
	go func() {
		defer close(hangup)
		// Subscribers never send after the request; any read result means the peer is gone.
		_, _ = reader.ReadByte()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
