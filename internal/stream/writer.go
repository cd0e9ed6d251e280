package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// NDJSONWriter writes one JSON chunk per line and flushes after each write
// when the underlying writer supports it.
type NDJSONWriter struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w, enc: json.NewEncoder(w)}
}

// Write implements schema.ChunkSink.
func (n *NDJSONWriter) Write(c schema.Chunk) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enc.Encode(c); err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// WSWriter writes chunks as JSON text frames on a websocket connection.
type WSWriter struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWSWriter(conn *websocket.Conn, writeTimeout time.Duration) *WSWriter {
	return &WSWriter{conn: conn, writeTimeout: writeTimeout}
}

// Write implements schema.ChunkSink.
func (w *WSWriter) Write(c schema.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	if err := w.conn.WriteJSON(c); err != nil {
		return fmt.Errorf("write websocket chunk: %w", err)
	}
	return nil
}
