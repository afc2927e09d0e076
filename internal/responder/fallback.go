package responder

import "strings"

// FallbackReply composes the deterministic reply used whenever the
// generative backend is unavailable or times out. It is context-agnostic,
// always non-empty, and never references text that would require the
// backend.
func FallbackReply(userText string) string {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(userText)) {
		words[strings.Trim(w, ".,!?;:'\"")] = true
	}
	hasAny := func(targets ...string) bool {
		for _, t := range targets {
			if words[t] {
				return true
			}
		}
		return false
	}

	switch {
	case hasAny("hello", "hi", "hey", "morning", "evening"):
		return "Hi! Good to see you. How can I help?"
	case hasAny("thanks", "thank"):
		return "You're welcome! Happy to help anytime."
	case hasAny("bye", "goodbye"):
		return "Take care! I'll keep our conversation in mind for next time."
	default:
		return "Got it. I'm having trouble reaching my full reasoning right now, " +
			"but I've noted your message and I remember our conversation. " +
			"I can recall what we've discussed and look things up in my knowledge base. " +
			"Ask me again in a moment or rephrase if it's urgent."
	}
}
