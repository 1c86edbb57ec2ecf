package signals

import (
	"strings"
	"testing"
)

func TestParseSignalsPlainJSON(t *testing.T) {
	parsed, err := parseSignals(`{"intents":["quer_teste"],"proposed_automations":["liberar_teste","explicar_deposito"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Intents) != 1 || parsed.Intents[0] != "quer_teste" {
		t.Fatalf("intents = %v", parsed.Intents)
	}
	if len(parsed.ProposedAutomations) != 2 || parsed.ProposedAutomations[0] != "liberar_teste" {
		t.Fatalf("proposed = %v", parsed.ProposedAutomations)
	}
}

func TestParseSignalsStripsCodeFence(t *testing.T) {
	parsed, err := parseSignals("```json\n{\"intents\":[],\"proposed_automations\":[\"explicar_deposito\"]}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.ProposedAutomations) != 1 {
		t.Fatalf("proposed = %v", parsed.ProposedAutomations)
	}
}

func TestParseSignalsRejectsProse(t *testing.T) {
	if _, err := parseSignals("não consegui identificar a intenção"); err == nil {
		t.Fatalf("expected parse error for non-JSON output")
	}
}

func TestBuildPromptListsAutomations(t *testing.T) {
	content := buildPrompt("quero o teste", []string{"liberar_teste", "pedir_conta"})
	text := content.Parts[0].Text
	if text == "" || content.Role != "user" {
		t.Fatalf("unexpected content: %+v", content)
	}
	for _, want := range []string{"quero o teste", "liberar_teste", "pedir_conta"} {
		if !strings.Contains(text, want) {
			t.Fatalf("prompt missing %q: %s", want, text)
		}
	}
}
