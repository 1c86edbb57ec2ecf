// Package kb is a markdown-backed knowledge base with keyword retrieval.
// It answers doubts the automation catalog cannot, grounding an optional
// LLM reply on the best-matching sections.
package kb

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/ai/moonshot"
	"leadflow_backend/platform/cache"
	"leadflow_backend/platform/logger"
)

// Section is one markdown heading with its body.
type Section struct {
	Title   string
	Content string
}

// Hit is a scored retrieval result.
type Hit struct {
	Section
	Score float64
}

// scoreFloor drops sections with only incidental keyword overlap.
const scoreFloor = 0.3

// Service answers questions from the markdown knowledge base. Query results
// are cached briefly so repeated doubts on the same topic skip retrieval.
type Service struct {
	path  string
	chat  *moonshot.ChatClient
	cache cache.Store
	ttl   time.Duration
	log   *logger.Logger

	sections []Section
	loadedAt time.Time
}

func New(path string, chat *moonshot.ChatClient, store cache.Store, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{path: path, chat: chat, cache: store, ttl: ttl, log: log}
}

// Answer returns a reply for the query, or "" when the knowledge base has
// nothing relevant. LLM failures degrade to the best raw section.
func (s *Service) Answer(ctx context.Context, env *domain.Environment) (string, error) {
	query := env.InboundText()
	if strings.TrimSpace(query) == "" {
		return "", nil
	}

	key := queryKey(query)
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	hits := s.Search(query, 3)
	if len(hits) == 0 {
		return "", nil
	}

	answer := s.compose(ctx, query, env, hits)
	if answer != "" && s.cache != nil {
		if err := s.cache.Set(ctx, key, answer, s.ttl); err != nil {
			s.log.Warn("kb cache write failed", "error", err)
		}
	}
	return answer, nil
}

// Search returns up to topK sections passing the relevance floor, best first.
func (s *Service) Search(query string, topK int) []Hit {
	sections := s.load()
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	var hits []Hit
	for _, sec := range sections {
		score := relevance(keywords, strings.ToLower(query), sec)
		if score > scoreFloor {
			hits = append(hits, Hit{Section: sec, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// SectionTitles lists the loaded section headings.
func (s *Service) SectionTitles() []string {
	sections := s.load()
	titles := make([]string, 0, len(sections))
	for _, sec := range sections {
		if sec.Title != "" {
			titles = append(titles, sec.Title)
		}
	}
	return titles
}

// Reload drops the parsed sections so the next query rereads the file.
func (s *Service) Reload() {
	s.sections = nil
	s.loadedAt = time.Time{}
}

func (s *Service) load() []Section {
	if s.sections != nil && time.Since(s.loadedAt) < s.ttl {
		return s.sections
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if s.sections == nil {
			s.log.Warn("knowledge base unavailable", "path", s.path, "error", err)
		}
		return s.sections
	}
	s.sections = ParseSections(string(raw))
	s.loadedAt = time.Now()
	return s.sections
}

func (s *Service) compose(ctx context.Context, query string, env *domain.Environment, hits []Hit) string {
	if s.chat == nil {
		return hits[0].Content
	}

	var grounding strings.Builder
	for _, h := range hits {
		body := h.Content
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		fmt.Fprintf(&grounding, "- %s (fonte: %s)\n", body, h.Title)
	}

	system := "Você é um assistente de um serviço de sinais de trading. Responda de forma clara, objetiva e amigável, em português brasileiro, usando apenas as informações fornecidas. Máximo 2 parágrafos."
	user := fmt.Sprintf("Contexto do lead:\n- Contas: %s\n- Depósito: %s\n\nInformações da base de conhecimento:\n%s\nPergunta do usuário: %q",
		summarizeAccounts(env.Snapshot), env.Snapshot.Deposit, grounding.String(), query)

	started := time.Now()
	reply, err := s.chat.Complete(ctx, system, user, 0.3)
	s.log.LLMCall("kb_answer", "", float64(time.Since(started).Milliseconds()), err)
	if err != nil || strings.TrimSpace(reply) == "" {
		return "📚 " + hits[0].Content
	}
	return strings.TrimSpace(reply)
}

func summarizeAccounts(snap domain.Snapshot) string {
	if len(snap.Accounts) == 0 {
		return "nenhuma"
	}
	parts := make([]string, 0, len(snap.Accounts))
	for broker, acct := range snap.Accounts {
		parts = append(parts, fmt.Sprintf("%s=%s", broker, acct.Status))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// ParseSections splits markdown into heading-delimited sections. Text before
// the first heading becomes an untitled section.
func ParseSections(content string) []Section {
	var sections []Section
	current := Section{}

	flush := func() {
		current.Content = strings.TrimSpace(current.Content)
		if current.Content != "" {
			sections = append(sections, current)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			current = Section{Title: strings.TrimSpace(strings.TrimLeft(line, "# "))}
			continue
		}
		current.Content += line + "\n"
	}
	flush()
	return sections
}

var wordRe = regexp.MustCompile(`\pL[\pL\pN]*`)

var stopwords = map[string]struct{}{
	"o": {}, "a": {}, "os": {}, "as": {}, "um": {}, "uma": {}, "de": {}, "do": {}, "da": {}, "dos": {}, "das": {},
	"e": {}, "ou": {}, "mas": {}, "para": {}, "por": {}, "com": {}, "em": {}, "no": {}, "na": {}, "nos": {}, "nas": {},
	"que": {}, "como": {}, "onde": {}, "quando": {}, "porque": {}, "qual": {}, "quais": {},
	"é": {}, "são": {}, "foi": {}, "foram": {}, "tem": {}, "ter": {}, "pode": {}, "posso": {}, "consegue": {},
	"me": {}, "te": {}, "se": {}, "vocês": {}, "eles": {}, "elas": {}, "isso": {},
	"esse": {}, "essa": {}, "este": {}, "esta": {}, "aquele": {}, "aquela": {},
}

func extractKeywords(text string) []string {
	var keywords []string
	for _, word := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(word)) <= 2 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

// relevance scores a section against the query: keyword hits weighted toward
// the title, a density bonus, and a token-overlap similarity term.
func relevance(keywords []string, query string, sec Section) float64 {
	title := strings.ToLower(sec.Title)
	combined := title + " " + strings.ToLower(sec.Content)

	score := 0.0
	matches := 0
	for _, kw := range keywords {
		if !strings.Contains(combined, kw) {
			continue
		}
		matches++
		if strings.Contains(title, kw) {
			score += 0.3
		} else {
			score += 0.1
		}
	}
	if len(keywords) > 0 {
		score += float64(matches) / float64(len(keywords)) * 0.3
	}
	score += tokenOverlap(query, combined) * 0.2

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// tokenOverlap is the Jaccard similarity of the word sets.
func tokenOverlap(a, b string) float64 {
	setA := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(a, -1) {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(b, -1) {
		setB[w] = struct{}{}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func queryKey(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "kb:q:" + hex.EncodeToString(sum[:])
}
