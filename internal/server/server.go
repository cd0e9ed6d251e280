// Package server exposes the chat orchestrator over HTTP: a JSON endpoint,
// an NDJSON chunk stream and a websocket chunk stream.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snowgoose/snowgoose/internal/chat"
	"github.com/snowgoose/snowgoose/internal/identity"
	"github.com/snowgoose/snowgoose/internal/schema"
	"github.com/snowgoose/snowgoose/internal/stream"
)

// UserHeader carries the authenticated user id, set by the fronting proxy.
const UserHeader = "X-User-ID"

const (
	maxBodyBytes   = 32 << 20 // vision payloads are inline base64
	wsWriteTimeout = 10 * time.Second
)

// Chatter is the orchestrator surface the transport needs.
type Chatter interface {
	SendChat(ctx context.Context, c *schema.Chat, tool *schema.MCPTool) (chat.Result, error)
	StreamChat(ctx context.Context, c *schema.Chat, tool *schema.MCPTool, sink schema.ChunkSink) error
}

// Options configures a Server.
type Options struct {
	// ImagesDir is served under /images/ when set.
	ImagesDir string
	// RatePerMinute limits chat requests per user; zero disables limiting.
	RatePerMinute int
	RateBurst     int
}

// Server is the HTTP transport.
type Server struct {
	chats    Chatter
	opts     Options
	limiter  *userLimiter
	upgrader websocket.Upgrader
}

func New(chats Chatter, opts Options) *Server {
	s := &Server{
		chats: chats,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
	if opts.RatePerMinute > 0 {
		s.limiter = newUserLimiter(opts.RatePerMinute, opts.RateBurst)
	}
	return s
}

func (s *Server) limited(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.middleware(h)
}

// Handler returns the routed handler with user and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.limited(s.handleChat))
	mux.Handle("POST /api/chat/stream", s.limited(s.handleStream))
	mux.HandleFunc("GET /api/chat/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.ImagesDir != "" {
		mux.Handle("GET /images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.opts.ImagesDir))))
	}
	return logRequests(withUser(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return ctx.Err()
}

// chatReply is the body of POST /api/chat. ImageURL is set for image
// models, Response otherwise.
type chatReply struct {
	Response *schema.ChatResponse `json:"response,omitempty"`
	ImageURL string               `json:"imageUrl,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	c, err := decodeChat(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.chats.SendChat(r.Context(), c, nil)
	if err != nil {
		if code, fatal := statusFor(err); fatal {
			writeError(w, code, err)
			return
		}
		// Vendor failures still answer the turn, as an inline error block.
		slog.Warn("chat turn failed", "err", err)
		resp := chat.ErrorResponse(err)
		writeJSON(w, http.StatusOK, chatReply{Response: &resp})
		return
	}

	if res.IsImage() {
		writeJSON(w, http.StatusOK, chatReply{ImageURL: res.ImageURL})
		return
	}
	writeJSON(w, http.StatusOK, chatReply{Response: &res.Response})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := decodeChat(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := stream.NewNDJSONWriter(w)
	if err := s.chats.StreamChat(r.Context(), c, nil, out.Write); err != nil {
		slog.Debug("chat stream ended with error", "err", err)
	}
}

// handleWS upgrades the connection and answers one chat turn per text
// frame until the client closes. Each frame is charged to the user's rate
// limit; a refused frame gets an error chunk and stream-complete.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	out := stream.NewWSWriter(conn, wsWriteTimeout)
	for {
		var c schema.Chat
		if err := conn.ReadJSON(&c); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "err", err)
			}
			return
		}
		if s.limiter != nil && !s.limiter.AllowRequest(r) {
			if err := out.Write(schema.ErrorChunk(tooManyRequests, "rate limited")); err != nil {
				return
			}
			if err := out.Write(schema.CompleteChunk()); err != nil {
				return
			}
			continue
		}
		if err := s.chats.StreamChat(ctx, &c, nil, out.Write); err != nil {
			slog.Debug("websocket turn ended with error", "err", err)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func decodeChat(w http.ResponseWriter, r *http.Request) (*schema.Chat, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var c schema.Chat
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &c, nil
}

// statusFor maps errors that mean no answer can be produced to an HTTP
// status. The second result is false for vendor failures.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, schema.ErrInvalidChat):
		return http.StatusBadRequest, true
	case errors.Is(err, schema.ErrUnauthenticated):
		return http.StatusUnauthorized, true
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, schema.ErrNotSupported):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, schema.ErrNoVendorConfig),
		errors.Is(err, schema.ErrUnsupportedVendor),
		errors.Is(err, schema.ErrMissingVendor):
		return http.StatusServiceUnavailable, true
	}
	return http.StatusBadGateway, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": chat.PublicMessage(err)})
}

// withUser binds the X-User-ID header to the request context.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(UserHeader); id != "" {
			r = r.WithContext(identity.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack is required by the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}
