package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadflow_backend/internal/catalog/repository"
	catalogsvc "leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/cache"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

type fakeRepo struct {
	automations []repository.AutomationSpec
	targets     map[string]repository.TargetSpec
}

func (f *fakeRepo) LoadAutomations(context.Context) ([]repository.AutomationSpec, error) {
	return f.automations, nil
}

func (f *fakeRepo) LoadProcedures(context.Context) ([]repository.ProcedureSpec, error) {
	return nil, nil
}

func (f *fakeRepo) LoadTargets(context.Context) (map[string]repository.TargetSpec, error) {
	return f.targets, nil
}

type fakeState struct {
	state *domain.ContextState
}

func (f *fakeState) ContextState(context.Context, string) (*domain.ContextState, error) {
	return f.state, nil
}

type fakeClassifier struct {
	result *domain.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(context.Context, Input, int) (*domain.Classification, error) {
	f.calls++
	return f.result, f.err
}

func depositTargets() map[string]repository.TargetSpec {
	return map[string]repository.TargetSpec{
		"confirm_can_deposit": {
			MaxAgeMinutes: 30,
			OnYes:         &repository.OutcomeSpec{Facts: map[string]any{"can_deposit": true}},
			OnNo:          &repository.OutcomeSpec{Facts: map[string]any{"can_deposit": false}},
		},
	}
}

func armedState(target string, expires time.Time) *domain.ContextState {
	return &domain.ContextState{
		Waiting: &domain.Waiting{
			Kind:      domain.WaitingConfirmation,
			Target:    target,
			CreatedAt: expires.Add(-30 * time.Minute),
			ExpiresAt: expires,
		},
	}
}

func inboundEnv(leadID, text string) *domain.Environment {
	return &domain.Environment{
		Lead:           domain.Lead{ID: leadID, Platform: "telegram"},
		Snapshot:       domain.NewSnapshot(),
		MessagesWindow: []domain.Message{{Direction: "in", Text: text}},
	}
}

func newTestGate(t *testing.T, state *domain.ContextState, classifier Strategy, targets map[string]repository.TargetSpec) *Gate {
	t.Helper()
	cat := catalogsvc.New(&fakeRepo{targets: targets}, time.Minute, logger.New("development"))
	cfg := Config{
		Mode:              config.GateModeLLMFirst,
		ShortCircuit:      true,
		Threshold:         0.80,
		Timeout:           time.Second,
		Samples:           1,
		RetroactiveWindow: 10 * time.Minute,
		IdempotencyTTL:    10 * time.Minute,
	}
	return New(cfg, &fakeState{state: state}, cat, classifier, cache.NewMemory(), nil, logger.New("development"))
}

func TestShortYesResolvesDeterministically(t *testing.T) {
	cls := &fakeClassifier{}
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), cls, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Handled {
		t.Fatal("expected handled")
	}
	if res.Layer != domain.LayerDeterministicShort {
		t.Fatalf("layer = %q, want %q", res.Layer, domain.LayerDeterministicShort)
	}
	if res.Polarity != domain.PolarityYes {
		t.Fatalf("polarity = %q, want yes", res.Polarity)
	}
	if cls.calls != 0 {
		t.Fatalf("classifier called %d times, want 0", cls.calls)
	}

	if len(res.Plan.Actions) != 3 {
		t.Fatalf("got %d actions, want 3: %+v", len(res.Plan.Actions), res.Plan.Actions)
	}
	if res.Plan.Actions[0].Type != domain.ActionSetFacts {
		t.Fatalf("first action = %q, want set_facts", res.Plan.Actions[0].Type)
	}
	if v, ok := res.Plan.Actions[0].SetFacts["can_deposit"].(bool); !ok || !v {
		t.Fatalf("set_facts = %v, want can_deposit true", res.Plan.Actions[0].SetFacts)
	}
	if res.Plan.Actions[2].Type != domain.ActionClearWaiting {
		t.Fatalf("last action = %q, want clear_waiting", res.Plan.Actions[2].Type)
	}
}

func TestClearWaitingAppearsExactlyOnce(t *testing.T) {
	for _, text := range []string{"sim", "não", "talvez"} {
		g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), nil, depositTargets())
		res, err := g.Process(context.Background(), inboundEnv("lead-1", text))
		if err != nil {
			t.Fatalf("Process(%q): %v", text, err)
		}
		if !res.Handled {
			t.Fatalf("Process(%q): not handled", text)
		}
		clears := 0
		for _, a := range res.Plan.Actions {
			if a.Type == domain.ActionClearWaiting {
				clears++
			}
		}
		if clears != 1 {
			t.Fatalf("Process(%q): %d clear_waiting actions, want 1", text, clears)
		}
	}
}

func TestNoPendingWaitPassesThrough(t *testing.T) {
	g := newTestGate(t, &domain.ContextState{}, nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Handled {
		t.Fatal("expected pass-through with no pending wait")
	}
}

func TestExpiredWaitingIsIgnored(t *testing.T) {
	state := armedState("confirm_can_deposit", time.Now().Add(-time.Second))
	g := newTestGate(t, state, nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Handled {
		t.Fatal("expired wait must read as absent")
	}
}

func TestWaitingValidUntilDeadline(t *testing.T) {
	state := armedState("confirm_can_deposit", time.Now().Add(900*time.Millisecond))
	g := newTestGate(t, state, nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Handled {
		t.Fatal("wait still inside its deadline must be honored")
	}
}

func TestRetroactiveTimelineMatch(t *testing.T) {
	state := &domain.ContextState{
		Timeline: []domain.TimelineEntry{
			{Target: "confirm_can_deposit", AutomationID: "pedir_deposito", SentAt: time.Now().Add(-5 * time.Minute)},
		},
	}
	g := newTestGate(t, state, nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "não"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Handled {
		t.Fatal("expected retroactive resolution")
	}
	if !res.Retro {
		t.Fatal("expected retro flag")
	}
	if res.Polarity != domain.PolarityNo {
		t.Fatalf("polarity = %q, want no", res.Polarity)
	}
}

func TestRetroactiveOutsideWindowIgnored(t *testing.T) {
	state := &domain.ContextState{
		Timeline: []domain.TimelineEntry{
			{Target: "confirm_can_deposit", SentAt: time.Now().Add(-time.Hour)},
		},
	}
	g := newTestGate(t, state, nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Handled {
		t.Fatal("timeline entry outside the window must not resolve")
	}
}

func TestIdempotentReplaySkipsSideEffects(t *testing.T) {
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), nil, depositTargets())
	env := inboundEnv("lead-1", "sim")

	first, err := g.Process(context.Background(), env)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := g.Process(context.Background(), env)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Replay {
		t.Fatal("expected replay marker")
	}
	if second.Plan != nil {
		t.Fatal("replay must carry no plan")
	}
	if second.Target != first.Target || second.Polarity != first.Polarity || second.Layer != first.Layer {
		t.Fatalf("replay result diverged: first=%+v second=%+v", first, second)
	}
}

func TestLLMResolvesLongReply(t *testing.T) {
	cls := &fakeClassifier{result: &domain.Classification{
		Matches:    true,
		Target:     "confirm_can_deposit",
		Polarity:   domain.PolarityYes,
		Confidence: 0.92,
	}}
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), cls, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "consigo sim, vou fazer o depósito ainda hoje à tarde"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Handled || res.Layer != domain.LayerLLM {
		t.Fatalf("got %+v, want handled via llm", res)
	}
	if cls.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", cls.calls)
	}
}

func TestLowLLMConfidenceLeavesUnhandled(t *testing.T) {
	cls := &fakeClassifier{result: &domain.Classification{
		Matches:    true,
		Target:     "confirm_can_deposit",
		Polarity:   domain.PolarityYes,
		Confidence: 0.55,
	}}
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), cls, depositTargets())

	// Long enough to dodge the short circuit, and a fallback match on
	// "posso" that must not run after the model flagged ambiguity.
	res, err := g.Process(context.Background(), inboundEnv("lead-1", "posso tentar mas preciso ver uma coisa antes com minha esposa"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Handled {
		t.Fatal("low-confidence reading must leave the message unhandled")
	}
}

func TestLLMErrorFallsThroughToFallback(t *testing.T) {
	cls := &fakeClassifier{err: errors.New("upstream timeout")}
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), cls, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "olha, eu não consigo fazer isso essa semana de jeito nenhum"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Handled {
		t.Fatal("fallback should have resolved after llm failure")
	}
	if res.Layer != domain.LayerFallback {
		t.Fatalf("layer = %q, want %q", res.Layer, domain.LayerFallback)
	}
	if res.Polarity != domain.PolarityNo {
		t.Fatalf("polarity = %q, want no", res.Polarity)
	}
}

func TestNoOutcomeUsesStockReplyAndFacts(t *testing.T) {
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "não"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Handled || res.Polarity != domain.PolarityNo {
		t.Fatalf("got %+v, want handled no", res)
	}
	var sawMessage bool
	for _, a := range res.Plan.Actions {
		if a.Type == domain.ActionSendMessage && a.Text != "" {
			sawMessage = true
		}
	}
	if !sawMessage {
		t.Fatal("no-polarity outcome must send a reply")
	}
}

func TestDisallowedTargetIsIgnored(t *testing.T) {
	g := newTestGate(t, armedState("confirm_something_else", time.Now().Add(time.Minute)), nil, depositTargets())

	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Handled {
		t.Fatal("target outside the allow-list must not resolve")
	}
}

func TestLeadLockSkipsConcurrentDelivery(t *testing.T) {
	g := newTestGate(t, armedState("confirm_can_deposit", time.Now().Add(time.Minute)), nil, depositTargets())

	if !g.locks.TryAcquire("lead-1") {
		t.Fatal("setup: could not take lock")
	}
	res, err := g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Handled {
		t.Fatal("locked lead must be skipped")
	}

	g.locks.Release("lead-1")
	res, err = g.Process(context.Background(), inboundEnv("lead-1", "sim"))
	if err != nil {
		t.Fatalf("Process after release: %v", err)
	}
	if !res.Handled {
		t.Fatal("expected resolution after lock release")
	}
}

func TestStaleLockTakeover(t *testing.T) {
	l := newLeadLocks()
	held := time.Now()
	l.now = func() time.Time { return held }
	if !l.TryAcquire("lead-9") {
		t.Fatal("first acquire failed")
	}
	if l.TryAcquire("lead-9") {
		t.Fatal("second acquire should fail while fresh")
	}
	l.now = func() time.Time { return held.Add(staleLockAfter + time.Second) }
	if !l.TryAcquire("lead-9") {
		t.Fatal("stale lock should be taken over")
	}
}

func TestMajorityVote(t *testing.T) {
	yes := func(conf float64) *domain.Classification {
		return &domain.Classification{Matches: true, Target: "confirm_can_deposit", Polarity: domain.PolarityYes, Confidence: conf}
	}
	no := func(conf float64) *domain.Classification {
		return &domain.Classification{Matches: true, Target: "confirm_can_deposit", Polarity: domain.PolarityNo, Confidence: conf}
	}

	got := majority([]*domain.Classification{yes(0.9), no(0.95), yes(0.7)})
	if got.Polarity != domain.PolarityYes {
		t.Fatalf("polarity = %q, want yes (2 of 3 votes)", got.Polarity)
	}
	if got.Confidence != 0.8 {
		t.Fatalf("confidence = %v, want mean 0.8", got.Confidence)
	}
}

func TestShortReplyTokens(t *testing.T) {
	cases := []struct {
		text     string
		polarity domain.Polarity
		ok       bool
	}{
		{"sim", domain.PolarityYes, true},
		{"Pode Ser", domain.PolarityYes, true},
		{"👍", domain.PolarityYes, true},
		{"nao", domain.PolarityNo, true},
		{"agora não", domain.PolarityNo, true},
		{"mais tarde", domain.PolarityOther, true},
		{"simpatia", "", false},
		{"quero muito fazer o teste hoje", "", false},
	}
	for _, tc := range cases {
		polarity, _, ok := classifyShort(tc.text)
		if ok != tc.ok || polarity != tc.polarity {
			t.Fatalf("classifyShort(%q) = (%q, %v), want (%q, %v)", tc.text, polarity, ok, tc.polarity, tc.ok)
		}
	}
}

func TestFallbackNegationBeatsEmbeddedYes(t *testing.T) {
	polarity, conf, ok := classifyFallback("não posso agora")
	if !ok || polarity != domain.PolarityNo {
		t.Fatalf("got (%q, %v, %v), want a no", polarity, conf, ok)
	}
	if conf != 0.85 {
		t.Fatalf("confidence = %v, want 0.85", conf)
	}

	polarity, conf, ok = classifyFallback("acho que consigo")
	if !ok || polarity != domain.PolarityYes || conf != 0.85 {
		t.Fatalf("got (%q, %v, %v), want yes at 0.85", polarity, conf, ok)
	}
}
