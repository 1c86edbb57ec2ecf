package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/ai/moonshot"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Input is everything a strategy may look at when reading a reply.
type Input struct {
	Message  string
	History  []domain.Message
	Targets  []string
	Snapshot domain.Snapshot
}

// Strategy classifies an inbound reply against pending confirmation targets.
// Implementations may run the classification more than once and aggregate;
// samples is a hint, not a contract.
type Strategy interface {
	Classify(ctx context.Context, input Input, samples int) (*domain.Classification, error)
}

const classifierSystemPrompt = `Você é um classificador de respostas de leads em uma conversa de vendas.
Dada a mensagem atual e os alvos de confirmação pendentes, decida se a mensagem
responde a algum deles.

Responda SOMENTE com um objeto JSON:
{"matches": bool, "target": "<alvo ou vazio>", "polarity": "yes"|"no"|"other", "confidence": 0.0-1.0, "reason": "<curto>"}

Regras:
- "matches" é true apenas se a mensagem responde claramente a um alvo pendente.
- "polarity" é "other" para adiamentos ("depois", "talvez") e hesitações.
- "confidence" reflete sua certeza na leitura, não na polaridade.`

// LLMClassifier reads a reply with the chat model, optionally sampling the
// model several times and keeping the majority reading.
type LLMClassifier struct {
	client      *moonshot.ChatClient
	log         *logger.Logger
	temperature float64
}

func NewLLMClassifier(client *moonshot.ChatClient, log *logger.Logger) *LLMClassifier {
	return &LLMClassifier{client: client, log: log, temperature: 0.2}
}

func (c *LLMClassifier) Classify(ctx context.Context, input Input, samples int) (*domain.Classification, error) {
	if samples < 1 {
		samples = 1
	}
	user := buildClassifierContext(input)

	results := make([]*domain.Classification, 0, samples)
	var lastErr error
	for i := 0; i < samples; i++ {
		started := time.Now()
		raw, err := c.client.CompleteJSON(ctx, classifierSystemPrompt, user, c.temperature)
		c.log.LLMCall("confirmation_classify", "", float64(time.Since(started).Milliseconds()), err)
		if err != nil {
			lastErr = err
			continue
		}
		cls, err := parseClassification(raw)
		if err != nil {
			lastErr = err
			continue
		}
		results = append(results, cls)
	}
	if len(results) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no classification samples")
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "classifier produced no usable sample", lastErr).WithOp("gate.classify")
	}
	return majority(results), nil
}

// buildClassifierContext mirrors what a human reviewer would want to see:
// the message, the pending targets, the recent exchange and the known
// agreements.
func buildClassifierContext(input Input) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("MENSAGEM ATUAL: %q", input.Message))

	if len(input.Targets) > 0 {
		parts = append(parts, "AGUARDANDO CONFIRMAÇÃO PARA: "+strings.Join(input.Targets, ", "))
	}

	if n := len(input.History); n > 1 {
		recent := input.History
		if n > 3 {
			recent = recent[n-3:]
		}
		lines := make([]string, 0, len(recent))
		for _, m := range recent {
			lines = append(lines, m.Text)
		}
		parts = append(parts, "CONTEXTO RECENTE: "+strings.Join(lines, " | "))
	}

	var agreed []string
	if input.Snapshot.Agreements.AgreedToDeposit {
		agreed = append(agreed, "concordou em depositar")
	}
	if input.Snapshot.Agreements.Explained {
		agreed = append(agreed, "produto explicado")
	}
	if len(agreed) > 0 {
		parts = append(parts, "ACORDOS: "+strings.Join(agreed, ", "))
	}

	return strings.Join(parts, "\n\n")
}

func parseClassification(raw string) (*domain.Classification, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a code fence despite the format hint.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var cls domain.Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &cls); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	switch cls.Polarity {
	case domain.PolarityYes, domain.PolarityNo, domain.PolarityOther, "":
	default:
		return nil, fmt.Errorf("parse classification: unknown polarity %q", cls.Polarity)
	}
	return &cls, nil
}

// majority picks the most frequent (matches, target, polarity) reading and
// averages the confidence of its voters. Ties break toward the higher mean
// confidence, then lexicographic key order for determinism.
func majority(results []*domain.Classification) *domain.Classification {
	if len(results) == 1 {
		return results[0]
	}

	type bucket struct {
		votes int
		sum   float64
		first *domain.Classification
	}
	buckets := make(map[string]*bucket)
	for _, r := range results {
		key := fmt.Sprintf("%t|%s|%s", r.Matches, r.Target, r.Polarity)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{first: r}
			buckets[key] = b
		}
		b.votes++
		b.sum += r.Confidence
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := buckets[keys[i]], buckets[keys[j]]
		if a.votes != b.votes {
			return a.votes > b.votes
		}
		ma, mb := a.sum/float64(a.votes), b.sum/float64(b.votes)
		if ma != mb {
			return ma > mb
		}
		return keys[i] < keys[j]
	})

	win := buckets[keys[0]]
	out := *win.first
	out.Confidence = win.sum / float64(win.votes)
	return &out
}
