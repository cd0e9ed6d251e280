// Package cmdutils renders chat output for the terminal.
package cmdutils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/snowgoose/snowgoose/internal/schema"
)

const Logo = "🪿"

// Style controls how responses are printed.
type Style struct {
	ShowThinking bool
	// Markdown renders text blocks with glamour. Ignored when the output is
	// not a terminal.
	Markdown bool
}

// IsTTY reports whether f is attached to a terminal.
func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

var (
	rendererOnce sync.Once
	renderer     *glamour.TermRenderer
)

// RenderMarkdown renders text for terminal display, returning it unchanged
// when the renderer is unavailable or fails.
func RenderMarkdown(text string) string {
	rendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			renderer = r
		}
	})
	if renderer == nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

// PrintResponse writes a finished response. Thinking is shown dimmed
// before the answer when st.ShowThinking is set.
func PrintResponse(w io.Writer, resp schema.ChatResponse, st Style) {
	if f, ok := w.(*os.File); !ok || !IsTTY(f) {
		st.Markdown = false
	}
	fmt.Fprintf(w, "\n%s snowgoose\n", Logo)
	for _, b := range resp.Content {
		switch b.Type {
		case schema.BlockThinking:
			if st.ShowThinking {
				fmt.Fprintf(w, "\x1b[2m%s\x1b[0m\n", b.Thinking)
			}
		case schema.BlockText:
			if st.Markdown {
				fmt.Fprint(w, RenderMarkdown(b.Text))
				continue
			}
			fmt.Fprintln(w, b.Text)
		case schema.BlockImage:
			fmt.Fprintf(w, "[image] %s\n", b.URL)
		case schema.BlockImageData:
			fmt.Fprintf(w, "[image data %s, %d bytes base64]\n", b.ID, len(b.Base64Data))
		case schema.BlockError:
			fmt.Fprintf(w, "error: %s\n", b.PublicMessage)
		}
	}
	fmt.Fprintln(w)
}

// ChunkPrinter writes streamed chunks as they arrive.
type ChunkPrinter struct {
	w            io.Writer
	showThinking bool
	last         schema.ChunkType
}

func NewChunkPrinter(w io.Writer, showThinking bool) *ChunkPrinter {
	return &ChunkPrinter{w: w, showThinking: showThinking}
}

// Print implements schema.ChunkSink.
func (p *ChunkPrinter) Print(c schema.Chunk) error {
	switch c.Type {
	case schema.ChunkMeta:
		fmt.Fprintf(p.w, "\n%s snowgoose\n", Logo)
	case schema.ChunkThinking:
		if p.showThinking {
			fmt.Fprintf(p.w, "\x1b[2m%s\x1b[0m", c.Thinking)
		}
	case schema.ChunkText:
		if p.last == schema.ChunkThinking && p.showThinking {
			fmt.Fprintln(p.w)
		}
		fmt.Fprint(p.w, c.Text)
	case schema.ChunkImage:
		fmt.Fprintf(p.w, "[image] %s\n", c.URL)
	case schema.ChunkImageData:
		fmt.Fprintf(p.w, "[image data %s, %d bytes base64]\n", c.ID, len(c.Base64Data))
	case schema.ChunkError:
		fmt.Fprintf(p.w, "\nerror: %s\n", c.PublicMessage)
	case schema.ChunkStreamComplete:
		fmt.Fprint(p.w, "\n\n")
	}
	p.last = c.Type
	return nil
}

// Table writes rows as left-aligned columns separated by two spaces.
func Table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	line := func(cells []string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(header)
	total := 0
	for _, n := range widths {
		total += n + 2
	}
	fmt.Fprintln(w, strings.Repeat("-", max(total-2, 0)))
	for _, r := range rows {
		line(r)
	}
}
