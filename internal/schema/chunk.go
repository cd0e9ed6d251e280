package schema

// ChunkType discriminates the incremental stream protocol.
type ChunkType string

const (
	ChunkMeta           ChunkType = "meta"
	ChunkText           ChunkType = "text"
	ChunkThinking       ChunkType = "thinking"
	ChunkImageData      ChunkType = "image_data"
	ChunkImage          ChunkType = "image"
	ChunkStreamComplete ChunkType = "stream-complete"
	ChunkError          ChunkType = "error"
)

// Chunk is one element of a streamed response, serialised as a
// discriminated JSON object.
type Chunk struct {
	Type           ChunkType `json:"type"`
	ResponseID     string    `json:"responseId,omitempty"`
	Text           string    `json:"text,omitempty"`
	Thinking       string    `json:"thinking,omitempty"`
	ID             string    `json:"id,omitempty"`
	Base64Data     string    `json:"base64Data,omitempty"`
	GenerationID   string    `json:"generationId,omitempty"`
	URL            string    `json:"url,omitempty"`
	PublicMessage  string    `json:"publicMessage,omitempty"`
	PrivateMessage string    `json:"privateMessage,omitempty"`
}

// ChunkSink receives chunks in order. Returning an error aborts the stream.
type ChunkSink func(Chunk) error

func MetaChunk(responseID string) Chunk { return Chunk{Type: ChunkMeta, ResponseID: responseID} }

func TextChunk(text string) Chunk { return Chunk{Type: ChunkText, Text: text} }

func ThinkingChunk(thinking string) Chunk { return Chunk{Type: ChunkThinking, Thinking: thinking} }

func ImageDataChunk(id, base64Data string) Chunk {
	return Chunk{Type: ChunkImageData, ID: id, Base64Data: base64Data}
}

func ImageChunk(generationID, url string) Chunk {
	return Chunk{Type: ChunkImage, GenerationID: generationID, URL: url}
}

func CompleteChunk() Chunk { return Chunk{Type: ChunkStreamComplete} }

func ErrorChunk(publicMessage, privateMessage string) Chunk {
	return Chunk{Type: ChunkError, PublicMessage: publicMessage, PrivateMessage: privateMessage}
}

// BlockChunks converts finished blocks into the chunks that reproduce them.
// Blocks without a chunk representation (redacted thinking, tool use) are
// skipped.
func BlockChunks(blocks []ContentBlock) []Chunk {
	out := make([]Chunk, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			out = append(out, TextChunk(b.Text))
		case BlockThinking:
			out = append(out, ThinkingChunk(b.Thinking))
		case BlockImageData:
			out = append(out, ImageDataChunk(b.ID, b.Base64Data))
		case BlockImage:
			out = append(out, ImageChunk(b.GenerationID, b.URL))
		case BlockError:
			out = append(out, ErrorChunk(b.PublicMessage, b.PrivateMessage))
		}
	}
	return out
}
