package gate

import (
	"strings"

	"leadflow_backend/internal/engine/domain"
)

// Exact-match token sets for the short-reply short circuit. A reply of at
// most three words that matches one of these skips the classifier entirely.
var (
	shortYes = []string{"sim", "s", "yes", "y", "ok", "👍", "✅", "claro", "pode ser", "beleza"}

	shortNo = []string{"não", "nao", "n", "no", "nope", "agora não", "impossível", "não dá", "não da", "negativo"}

	shortOther = []string{"depois", "talvez", "mais tarde", "agora não", "vou ver", "deixa eu pensar"}
)

// Substring patterns for the deterministic fallback layer. Negations are
// checked first so "não posso" does not read as a yes via "posso".
var (
	fallbackNo = []string{"não", "nao", "não consigo", "não posso", "não quero", "impossível", "não dá", "não da", "negativo"}

	fallbackYes = []string{"sim", "consigo", "posso", "quero", "aceito", "pode", "vamos", "claro", "certeza", "ok", "beleza", "perfeito", "vou"}
)

const fallbackAccept = 0.70

// LooksLikeConfirmation reports whether a message reads as a bare yes/no
// style reply. The orchestrator uses it to spot confirmation-shaped messages
// that arrive with nothing pending.
func LooksLikeConfirmation(text string) bool {
	if !isShortReply(text) {
		return false
	}
	_, _, ok := classifyShort(text)
	return ok
}

func normalizeReply(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// isShortReply reports whether the message is at most three words.
func isShortReply(text string) bool {
	return len(strings.Fields(strings.TrimSpace(text))) <= 3
}

// classifyShort resolves an exact short-reply token. The no set runs before
// the other set so "agora não", present in both, reads as a no.
func classifyShort(text string) (domain.Polarity, float64, bool) {
	msg := normalizeReply(text)
	for _, tok := range shortYes {
		if msg == tok {
			return domain.PolarityYes, 0.95, true
		}
	}
	for _, tok := range shortNo {
		if msg == tok {
			return domain.PolarityNo, 0.95, true
		}
	}
	for _, tok := range shortOther {
		if msg == tok {
			return domain.PolarityOther, 0.90, true
		}
	}
	return "", 0, false
}

// classifyFallback resolves a reply with substring matching. Core tokens
// carry 0.85, the rest 0.75; anything below the accept floor is dropped.
func classifyFallback(text string) (domain.Polarity, float64, bool) {
	msg := normalizeReply(text)

	for _, pat := range fallbackNo {
		if strings.Contains(msg, pat) {
			conf := 0.75
			if pat == "não" || pat == "nao" {
				conf = 0.85
			}
			if conf >= fallbackAccept {
				return domain.PolarityNo, conf, true
			}
			return "", 0, false
		}
	}
	for _, pat := range fallbackYes {
		if strings.Contains(msg, pat) {
			conf := 0.75
			if pat == "sim" || pat == "consigo" || pat == "posso" {
				conf = 0.85
			}
			if conf >= fallbackAccept {
				return domain.PolarityYes, conf, true
			}
			return "", 0, false
		}
	}
	return "", 0, false
}
