// Package stream folds incremental chunks into content blocks and writes
// chunk streams to transports.
package stream

import (
	"slices"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Fold applies one chunk to the accumulated blocks and returns the result.
// The input slice is never modified; the result has its own backing array.
//
// text and thinking chunks extend the last block when it has the
// same type; image_data replaces the entry with the same id; image replaces
// the image_data (or earlier image) sharing its generation id; error
// inserts. meta and stream-complete carry no content.
func Fold(prev []schema.ContentBlock, c schema.Chunk) []schema.ContentBlock {
	blocks := slices.Clone(prev)
	switch c.Type {
	case schema.ChunkText:
		if n := len(blocks); n > 0 && blocks[n-1].Type == schema.BlockText {
			blocks[n-1].Text += c.Text
			return blocks
		}
		return append(blocks, schema.TextBlock(c.Text))

	case schema.ChunkThinking:
		if n := len(blocks); n > 0 && blocks[n-1].Type == schema.BlockThinking {
			blocks[n-1].Thinking += c.Thinking
			return blocks
		}
		return append(blocks, schema.ThinkingBlock(c.Thinking, ""))

	case schema.ChunkImageData:
		block := schema.ImageDataBlock(c.ID, c.Base64Data)
		if i := indexImage(blocks, c.ID); i >= 0 {
			blocks[i] = block
			return blocks
		}
		return append(blocks, block)

	case schema.ChunkImage:
		block := schema.ImageBlock(c.URL, c.GenerationID)
		if i := indexImage(blocks, c.GenerationID); i >= 0 {
			blocks[i] = block
			return blocks
		}
		return append(blocks, block)

	case schema.ChunkError:
		return append(blocks, schema.ErrorBlock(c.PublicMessage, c.PrivateMessage))
	}
	return blocks
}

// indexImage finds the image_data or image block keyed by id.
func indexImage(blocks []schema.ContentBlock, id string) int {
	if id == "" {
		return -1
	}
	for i, b := range blocks {
		switch b.Type {
		case schema.BlockImageData:
			if b.ID == id {
				return i
			}
		case schema.BlockImage:
			if b.GenerationID == id {
				return i
			}
		}
	}
	return -1
}

// Accumulator is a stateful wrapper around Fold that also tracks the
// response id and completion sentinel.
type Accumulator struct {
	ResponseID string
	Blocks     []schema.ContentBlock
	Complete   bool
}

// Add folds c into the accumulator.
func (a *Accumulator) Add(c schema.Chunk) {
	switch c.Type {
	case schema.ChunkMeta:
		a.ResponseID = c.ResponseID
	case schema.ChunkStreamComplete:
		a.Complete = true
	default:
		a.Blocks = Fold(a.Blocks, c)
	}
}

// Sink returns a ChunkSink feeding the accumulator.
func (a *Accumulator) Sink() schema.ChunkSink {
	return func(c schema.Chunk) error {
		a.Add(c)
		return nil
	}
}

// Response converts the accumulated state into a ChatResponse.
func (a *Accumulator) Response() schema.ChatResponse {
	return schema.ChatResponse{
		Role:       schema.RoleAssistant,
		Content:    a.Blocks,
		ResponseID: a.ResponseID,
	}
}

// Tee returns a sink forwarding every chunk to all sinks in order, stopping
// at the first error.
func Tee(sinks ...schema.ChunkSink) schema.ChunkSink {
	return func(c schema.Chunk) error {
		for _, s := range sinks {
			if err := s(c); err != nil {
				return err
			}
		}
		return nil
	}
}
