package responder

import (
	"strings"

	"github.com/pennyhq/penny/internal/brain"
	"github.com/pennyhq/penny/internal/conversation"
	"github.com/pennyhq/penny/internal/knowledge"
)

const defaultSystemPrompt = `You are Penny, a personal assistant.

You remember the recent conversation with each user and you are given
relevant entries from a curated knowledge base. Prefer that material over
guessing. Be friendly, concise, and concrete. If the provided context does
not cover the question, say so instead of inventing details.`

// buildPrompt assembles the grounded prompt under a character budget. The
// new user turn is always kept; retrieved facts are added most relevant
// first, then history most recent first, dropping the oldest turns when the
// budget runs out.
func buildPrompt(
	system string,
	history []conversation.Turn,
	facts []knowledge.Scored,
	userText string,
	budget int,
) (string, []brain.Message) {
	remaining := budget - len(system) - len(userText)

	var grounding strings.Builder
	if len(facts) > 0 {
		header := "\n\nRelevant knowledge:"
		if remaining > len(header) {
			grounding.WriteString(header)
			remaining -= len(header)
			for _, f := range facts {
				line := "\n- [" + f.Fact.Category + "] " + f.Fact.Text
				if len(line) > remaining {
					break
				}
				grounding.WriteString(line)
				remaining -= len(line)
			}
		}
	}

	// Walk history newest-first so truncation drops the oldest turns, then
	// restore chronological order.
	kept := make([]conversation.Turn, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		cost := len(history[i].Text)
		if cost > remaining {
			break
		}
		kept = append(kept, history[i])
		remaining -= cost
	}

	messages := make([]brain.Message, 0, len(kept)+1)
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, brain.Message{
			Role:    string(kept[i].Role),
			Content: kept[i].Text,
		})
	}
	messages = append(messages, brain.Message{Role: string(conversation.RoleUser), Content: userText})

	return system + grounding.String(), messages
}
