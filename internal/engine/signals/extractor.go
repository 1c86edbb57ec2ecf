// Package signals runs a lightweight ADK agent over the inbound message to
// extract advisory hints: detected intents and automations the model thinks
// apply. The hints ride on the environment and pass the selector guardrails
// before anything is sent, so a wrong guess costs nothing.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/google/uuid"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/ai/moonshot"
	"leadflow_backend/platform/logger"
)

const appName = "signal_extractor"

const extractorInstruction = `Você analisa mensagens de leads de uma corretora.
Responda SOMENTE com JSON no formato:
{"intents": ["..."], "proposed_automations": ["..."]}

intents: intenções detectadas na mensagem (ex: "quer_teste", "duvida_deposito", "problema_conta").
proposed_automations: ids de automações do catálogo que respondem à mensagem, em ordem de relevância. Use [] quando nenhuma servir.`

// Extractor wraps the ADK runner. A nil Extractor is valid and extracts
// nothing, which keeps the engine fully deterministic when no API key is
// configured.
type Extractor struct {
	runner   *runner.Runner
	sessions session.Service
	timeout  time.Duration
	log      *logger.Logger
}

func NewExtractor(cfg moonshot.Config, timeout time.Duration, log *logger.Logger) (*Extractor, error) {
	kimi := moonshot.NewModel(cfg)

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "SignalExtractor",
		Model:       kimi,
		Description: "Extracts intents and candidate automations from inbound lead messages.",
		Instruction: extractorInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("create signal agent: %w", err)
	}

	sessions := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          adkAgent,
		SessionService: sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("create signal runner: %w", err)
	}

	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Extractor{runner: r, sessions: sessions, timeout: timeout, log: log}, nil
}

// Extract annotates the environment with model hints. Failures are logged
// and swallowed: the engine works the same without signals, just with fewer
// proposals for the selector to vet.
func (e *Extractor) Extract(ctx context.Context, env *domain.Environment, automationIDs []string) {
	if e == nil || env == nil || len(env.MessagesWindow) == 0 {
		return
	}

	message := env.MessagesWindow[len(env.MessagesWindow)-1].Text
	if strings.TrimSpace(message) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	userID := "signals-" + env.Lead.ID
	sessionID := uuid.NewString()
	if _, err := e.sessions.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		e.log.Warn("signal session not created", "error", err)
		return
	}
	defer func() {
		_ = e.sessions.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   appName,
			UserID:    userID,
			SessionID: sessionID,
		})
	}()

	started := time.Now()
	output, err := e.run(ctx, userID, sessionID, buildPrompt(message, automationIDs))
	e.log.LLMCall("signal_extraction", "kimi", float64(time.Since(started).Milliseconds()), err)
	if err != nil {
		return
	}

	parsed, err := parseSignals(output)
	if err != nil {
		e.log.Warn("signal output not parseable", "error", err)
		return
	}
	env.Signals = parsed
}

func (e *Extractor) run(ctx context.Context, userID, sessionID string, content *genai.Content) (string, error) {
	var output string
	runConfig := agent.RunConfig{StreamingMode: agent.StreamingModeNone}

	for event, err := range e.runner.Run(ctx, userID, sessionID, content, runConfig) {
		if err != nil {
			return "", fmt.Errorf("signal run failed: %w", err)
		}
		if event.Content != nil {
			for _, part := range event.Content.Parts {
				output += part.Text
			}
		}
	}
	return output, nil
}

func buildPrompt(message string, automationIDs []string) *genai.Content {
	var sb strings.Builder
	sb.WriteString("MENSAGEM: ")
	sb.WriteString(message)
	if len(automationIDs) > 0 {
		sb.WriteString("\nAUTOMAÇÕES DISPONÍVEIS: ")
		sb.WriteString(strings.Join(automationIDs, ", "))
	}
	return &genai.Content{Role: "user", Parts: []*genai.Part{{Text: sb.String()}}}
}

type rawSignals struct {
	Intents             []string `json:"intents"`
	ProposedAutomations []string `json:"proposed_automations"`
}

func parseSignals(output string) (*domain.LLMSignals, error) {
	cleaned := strings.TrimSpace(output)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw rawSignals
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, err
	}
	return &domain.LLMSignals{
		Intents:             raw.Intents,
		ProposedAutomations: raw.ProposedAutomations,
	}, nil
}
