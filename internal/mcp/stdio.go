// ABOUTME: Stdio adapter: newline-delimited JSON-RPC over stdin/stdout through one transport.
// ABOUTME: Server-push notifications are interleaved on stdout.

package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/2389/meili-gateway/internal/session"
)

// ServeStdio reads one JSON-RPC message or batch per line from in and
// writes responses to out until in is exhausted or ctx is canceled.
func ServeStdio(ctx context.Context, in io.Reader, out io.Writer, transport session.Transport, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	defer transport.Close()

	var mu sync.Mutex
	writeLine := func(data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if _, err := out.Write(data); err != nil {
			return err
		}
		_, err := out.Write([]byte("\n"))
		return err
	}

	stream, err := transport.OpenStream()
	if err != nil {
		return fmt.Errorf("opening push stream: %w", err)
	}
	defer stream.Release()

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case <-stream.Closed:
				return
			case msg := <-stream.Messages:
				if err := writeLine(msg); err != nil {
					logger.Warn("writing notification", "error", err)
					return
				}
			}
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), MaxRequestBodySize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-pumpCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			return nil

		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			wasInitialized := transport.Initialized()
			resp, err := transport.HandleMessage(ctx, line)
			if err != nil {
				if errors.Is(err, session.ErrTransportClosed) {
					return nil
				}
				logger.Error("handling stdio message", "error", err)
				continue
			}
			if resp != nil {
				if err := writeLine(resp); err != nil {
					return fmt.Errorf("writing stdout: %w", err)
				}
			}
			if !wasInitialized && transport.Initialized() {
				if err := transport.Notify("notifications/tools/list_changed", nil); err != nil {
					logger.Debug("queueing tools/list_changed", "error", err)
				}
			}
		}
	}
}
