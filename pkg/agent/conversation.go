package agent

import (
	"time"

	"foundry/pkg/utils"
)

// Message is one entry in a conversation's local history. This mirror of
// the remote thread exists for truncation decisions and token estimates;
// the platform's thread remains the source of truth.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation tracks the local view of one thread.
type Conversation struct {
	ThreadID  string            `json:"thread_id"`
	Messages  []Message         `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewConversation(threadID string, metadata map[string]string) *Conversation {
	return &Conversation{
		ThreadID:  threadID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// Append records a message in the local history.
func (c *Conversation) Append(role, content string) {
	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Len returns the number of messages tracked locally.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Truncate drops old messages once the history exceeds max, keeping a
// leading system message (when present) plus the most recent entries.
func (c *Conversation) Truncate(max int) {
	if max < 1 || len(c.Messages) <= max {
		return
	}
	if c.Messages[0].Role == "system" {
		kept := make([]Message, 0, max)
		kept = append(kept, c.Messages[0])
		kept = append(kept, c.Messages[len(c.Messages)-(max-1):]...)
		c.Messages = kept
		return
	}
	c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-max:]...)
}

// TokenEstimate sums the token counts of all tracked messages.
func (c *Conversation) TokenEstimate(counter *utils.TokenCounter) int {
	total := 0
	for _, m := range c.Messages {
		total += counter.CountTokens(m.Content)
	}
	return total
}
