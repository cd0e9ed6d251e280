package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BlockType discriminates the ContentBlock union.
type BlockType string

const (
	BlockText             BlockType = "text"
	BlockThinking         BlockType = "thinking"
	BlockRedactedThinking BlockType = "redacted_thinking"
	BlockImage            BlockType = "image"
	BlockImageData        BlockType = "image_data"
	BlockToolUse          BlockType = "tool_use"
	BlockError            BlockType = "error"
)

// ContentBlock is one typed unit of message content.
//
// Which fields are populated depends on Type:
//
//	text              : Text
//	thinking          : Thinking, Signature
//	redacted_thinking : Data
//	image             : URL, GenerationID
//	image_data        : ID, Base64Data (partial preview, superseded by image)
//	tool_use          : ID, Name, Input
//	error             : PublicMessage, PrivateMessage
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	Data string `json:"data,omitempty"`

	URL          string `json:"url,omitempty"`
	GenerationID string `json:"generationId,omitempty"`

	ID         string         `json:"id,omitempty"`
	Base64Data string         `json:"base64Data,omitempty"`
	Name       string         `json:"name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`

	PublicMessage  string `json:"publicMessage,omitempty"`
	PrivateMessage string `json:"privateMessage,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: thinking, Signature: signature}
}

func RedactedThinkingBlock(data string) ContentBlock {
	return ContentBlock{Type: BlockRedactedThinking, Data: data}
}

func ImageBlock(url, generationID string) ContentBlock {
	return ContentBlock{Type: BlockImage, URL: url, GenerationID: generationID}
}

func ImageDataBlock(id, base64Data string) ContentBlock {
	return ContentBlock{Type: BlockImageData, ID: id, Base64Data: base64Data}
}

func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ErrorBlock(publicMessage, privateMessage string) ContentBlock {
	return ContentBlock{Type: BlockError, PublicMessage: publicMessage, PrivateMessage: privateMessage}
}

// IsContentBlockArray reports whether raw is a JSON array whose elements
// all carry a known block type.
func IsContentBlockArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return false
	}
	var items []struct {
		Type BlockType `json:"type"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return false
	}
	for _, it := range items {
		if !it.Type.Known() {
			return false
		}
	}
	return true
}

// Known reports whether t is one of the closed set of block types.
func (t BlockType) Known() bool {
	switch t {
	case BlockText, BlockThinking, BlockRedactedThinking, BlockImage,
		BlockImageData, BlockToolUse, BlockError:
		return true
	}
	return false
}

// ContentBlockToString renders blocks as plain text. Redacted thinking and
// partial image previews are skipped.
func ContentBlockToString(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			parts = append(parts, b.Text)
		case BlockThinking:
			parts = append(parts, b.Thinking)
		case BlockImage:
			parts = append(parts, fmt.Sprintf("[image: %s]", b.URL))
		case BlockToolUse:
			parts = append(parts, fmt.Sprintf("[tool: %s]", b.Name))
		case BlockError:
			parts = append(parts, b.PublicMessage)
		}
	}
	return strings.Join(parts, "\n")
}

// GetVisibleText joins the text of text blocks only, newline-separated.
func GetVisibleText(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// GetThinkingBlocks returns the thinking and redacted thinking blocks in order.
func GetThinkingBlocks(blocks []ContentBlock) []ContentBlock {
	var out []ContentBlock
	for _, b := range blocks {
		if b.Type == BlockThinking || b.Type == BlockRedactedThinking {
			out = append(out, b)
		}
	}
	return out
}

func HasThinking(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == BlockThinking || b.Type == BlockRedactedThinking {
			return true
		}
	}
	return false
}

// SignThinking tags an opaque vendor signature with the vendor that produced
// it. Reasoning traces are not portable, so adapters only replay blocks
// signed by themselves.
func SignThinking(vendor, opaque string) string {
	return strings.ToLower(vendor) + ":" + opaque
}

// ParseThinkingSignature splits a signature produced by SignThinking.
// Signatures without a vendor prefix return an empty vendor.
func ParseThinkingSignature(sig string) (vendor, opaque string) {
	i := strings.Index(sig, ":")
	if i <= 0 {
		return "", sig
	}
	return sig[:i], sig[i+1:]
}
