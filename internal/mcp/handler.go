// ABOUTME: net/http adapter over the Dispatcher, including SSE push streams.
// ABOUTME: Translates http.Request into Request and writes Result back.

package mcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultKeepAlive is the SSE comment interval when none is configured.
const DefaultKeepAlive = 30 * time.Second

// Handler serves the MCP endpoint over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	keepAlive  time.Duration
	logger     *slog.Logger
}

// NewHandler wraps d. keepAlive <= 0 uses DefaultKeepAlive.
func NewHandler(d *Dispatcher, keepAlive time.Duration, logger *slog.Logger) *Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatcher: d, keepAlive: keepAlive, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, reject(http.StatusRequestEntityTooLarge, "Request Entity Too Large"))
			return
		}
		writeResult(w, reject(http.StatusBadRequest, "Bad Request: could not read body"))
		return
	}

	res := h.dispatcher.Dispatch(r.Context(), &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header,
		Body:   body,
	})

	if res.Stream != nil {
		h.serveStream(w, r, res)
		return
	}
	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res *Result) {
	for k, vs := range res.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.Status)
	if len(res.Body) > 0 {
		_, _ = w.Write(res.Body)
	}
}

// serveStream pumps server-push messages as SSE until the client leaves or
// the session closes.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, res *Result) {
	stream := res.Stream
	defer stream.Release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeResult(w, reject(http.StatusInternalServerError, "Streaming not supported"))
		return
	}

	for k, vs := range res.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(res.Status)
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-stream.Closed:
			return

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case msg := <-stream.Messages:
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg); err != nil {
				h.logger.Debug("writing SSE event", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
