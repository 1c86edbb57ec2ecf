package kb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/cache"
	"leadflow_backend/platform/logger"
)

const fixture = `# Sobre o teste gratuito
O teste gratuito libera o robô de sinais por 7 dias após o primeiro depósito confirmado na corretora.

# Depósito mínimo
O depósito mínimo na corretora é de R$ 60. O valor fica na sua conta e pode ser sacado.

# Horários de operação
Os sinais são enviados das 9h às 22h, de segunda a sábado.
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.md")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestService(t *testing.T) *Service {
	return New(writeFixture(t), nil, cache.NewMemory(), time.Minute, logger.New("development"))
}

func doubtEnv(text string) *domain.Environment {
	return &domain.Environment{
		Lead:           domain.Lead{ID: "lead-1"},
		Snapshot:       domain.NewSnapshot(),
		MessagesWindow: []domain.Message{{Direction: "in", Text: text}},
	}
}

func TestParseSections(t *testing.T) {
	sections := ParseSections(fixture)
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}
	if sections[0].Title != "Sobre o teste gratuito" {
		t.Fatalf("title = %q", sections[0].Title)
	}
	if sections[1].Content == "" {
		t.Fatal("section body missing")
	}
}

func TestSearchRanksRelevantSectionFirst(t *testing.T) {
	s := newTestService(t)

	hits := s.Search("qual o valor do depósito mínimo?", 3)
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].Title != "Depósito mínimo" {
		t.Fatalf("best hit = %q", hits[0].Title)
	}
}

func TestSearchIgnoresUnrelatedQuery(t *testing.T) {
	s := newTestService(t)

	hits := s.Search("previsão meteorológica amanhã chuva", 3)
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestAnswerWithoutLLMReturnsBestSection(t *testing.T) {
	s := newTestService(t)

	got, err := s.Answer(context.Background(), doubtEnv("como funciona o teste gratuito?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got == "" {
		t.Fatal("expected an answer")
	}
}

func TestAnswerCachesByQuery(t *testing.T) {
	s := newTestService(t)
	env := doubtEnv("qual o depósito mínimo?")

	first, err := s.Answer(context.Background(), env)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// Mutate the file; the cached answer must survive until the TTL.
	if err := os.WriteFile(s.path, []byte("# Outro\nConteúdo trocado.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s.Reload()

	second, err := s.Answer(context.Background(), env)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if second != first {
		t.Fatalf("cache miss: %q vs %q", second, first)
	}
}

func TestMissingFileYieldsNoAnswer(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.md"), nil, cache.NewMemory(), time.Minute, logger.New("development"))

	got, err := s.Answer(context.Background(), doubtEnv("qual o depósito mínimo?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty answer, got %q", got)
	}
}
