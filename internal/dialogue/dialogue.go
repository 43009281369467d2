// Package dialogue runs the serial chat-to-audio loop: it picks one upstream
// event at a time, asks the LLM for a reply, streams the reply through the
// TTS engine, and waits for the audio to drain before the next round.
package dialogue

import (
	"sync"

	"github.com/lumehara/danmakucast/pkg/provider/llm"
)

// maxHistoryTurns bounds the conversation memory sent to the LLM. Older
// turns fall off the front; the system prompt is carried separately and
// never trimmed.
const maxHistoryTurns = 20

// Dialogue holds the rolling conversation history shared across rounds.
// Safe for concurrent use, though the orchestrator is the only writer.
type Dialogue struct {
	mu           sync.Mutex
	systemPrompt string
	turns        []llm.Message
}

// NewDialogue creates a Dialogue seeded with the system prompt.
func NewDialogue(systemPrompt string) *Dialogue {
	return &Dialogue{systemPrompt: systemPrompt}
}

// SystemPrompt returns the configured system prompt.
func (d *Dialogue) SystemPrompt() string {
	return d.systemPrompt
}

// Put appends one turn to the history, trimming the oldest turns beyond the
// history bound.
func (d *Dialogue) Put(role, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turns = append(d.turns, llm.Message{Role: role, Content: content})
	if len(d.turns) > maxHistoryTurns {
		d.turns = d.turns[len(d.turns)-maxHistoryTurns:]
	}
}

// Messages returns a copy of the current history.
func (d *Dialogue) Messages() []llm.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]llm.Message, len(d.turns))
	copy(out, d.turns)
	return out
}

// Len returns the number of stored turns.
func (d *Dialogue) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.turns)
}
