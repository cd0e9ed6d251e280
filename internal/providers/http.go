package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// postJSON sends body to url and decodes a 2xx JSON answer into out.
func (b *baseAdapter) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	resp, err := b.send(ctx, url, headers, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", b.spec.Name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s response: %w", b.spec.Name, err)
	}
	return nil
}

// openStream sends body to url and returns the SSE response body.
func (b *baseAdapter) openStream(ctx context.Context, url string, headers map[string]string, body any) (io.ReadCloser, error) {
	resp, err := b.send(ctx, url, headers, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (b *baseAdapter) send(ctx context.Context, url string, headers map[string]string, body any, accept string) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", b.spec.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", b.spec.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s HTTP request: %w", b.spec.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("%s HTTP %d: %s", b.spec.Label(), resp.StatusCode, friendlyHTTPError(resp.StatusCode, raw))
	}
	return resp, nil
}

// readSSE calls fn with the joined data payload of every server-sent event
// until the stream ends, fn fails, or a [DONE] sentinel arrives.
func readSSE(body io.Reader, fn func(event string, data []byte) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	var (
		event     string
		dataParts []string
	)
	flush := func() error {
		defer func() {
			event = ""
			dataParts = dataParts[:0]
		}()
		if len(dataParts) == 0 {
			return nil
		}
		data := strings.Join(dataParts, "\n")
		if data == "" || data == "[DONE]" {
			return nil
		}
		return fn(event, []byte(data))
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			dataParts = append(dataParts, strings.TrimSpace(line[5:]))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// repairJSON attempts to unmarshal JSON, retrying after stripping trailing
// garbage characters. Some models emit truncated tool arguments.
func repairJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	stripped := strings.TrimRight(raw, " \t\n\r}]")
	if !strings.HasSuffix(stripped, "}") {
		stripped += "}"
	}
	if err := json.Unmarshal([]byte(stripped), &out); err == nil {
		return out, nil
	}

	if i := strings.LastIndex(raw, "}"); i >= 0 {
		if err := json.Unmarshal([]byte(raw[:i+1]), &out); err == nil {
			return out, nil
		}
	}
	return map[string]any{}, fmt.Errorf("cannot repair JSON: %s", raw)
}

func friendlyHTTPError(code int, body []byte) string {
	if code == http.StatusTooManyRequests {
		return "rate limit exceeded"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
