package schema

// History is the ordered message list of a chat turn. It is append-only
// during a turn; the last element is the user message being answered.
type History []Message

// Clone returns a copy with an independent backing slice.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Last returns the newest message, or false when the history is empty.
func (h History) Last() (Message, bool) {
	if len(h) == 0 {
		return Message{}, false
	}
	return h[len(h)-1], true
}

// LastUserIndex returns the index of the newest user message, or -1.
func (h History) LastUserIndex() int {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// Normalized returns a copy in which every message uses the block form.
func (h History) Normalized() History {
	out := make(History, len(h))
	for i, m := range h {
		out[i] = m.Normalize()
	}
	return out
}
