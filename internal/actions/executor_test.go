package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

type sentCall struct {
	kind    string
	chatID  string
	text    string
	buttons []domain.Button
	url     string
}

type fakeSender struct {
	calls   []sentCall
	failOn  string
	nextID  int
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, text string) (string, error) {
	if f.failOn == "send_message" {
		return "", errors.New("channel down")
	}
	f.calls = append(f.calls, sentCall{kind: "send_message", chatID: chatID, text: text})
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *fakeSender) SendButtons(_ context.Context, chatID, text string, buttons []domain.Button) (string, error) {
	if f.failOn == "send_buttons" {
		return "", errors.New("channel down")
	}
	f.calls = append(f.calls, sentCall{kind: "send_buttons", chatID: chatID, text: text, buttons: buttons})
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *fakeSender) SendMedia(_ context.Context, chatID, mediaURL, caption string) (string, error) {
	if f.failOn == "send_media" {
		return "", errors.New("channel down")
	}
	f.calls = append(f.calls, sentCall{kind: "send_media", chatID: chatID, text: caption, url: mediaURL})
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

type fakeState struct {
	facts    []map[string]any
	cleared  int
	journeys []string
}

func (f *fakeState) ApplyFacts(_ context.Context, _ string, facts map[string]any) (domain.Snapshot, error) {
	f.facts = append(f.facts, facts)
	return domain.Snapshot{}, nil
}

func (f *fakeState) ClearWaiting(_ context.Context, _ string) error {
	f.cleared++
	return nil
}

func (f *fakeState) RecordJourneyEvent(_ context.Context, _ string, kind string, _ any) {
	f.journeys = append(f.journeys, kind)
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

type fixedPresigner struct{ url string }

func (p fixedPresigner) DownloadURL(_ context.Context, fileKey string) (string, error) {
	return p.url + "/" + fileKey, nil
}

func testLead() domain.Lead {
	return domain.Lead{ID: "lead-1", Platform: "telegram", PlatformUserID: "4242"}
}

func TestExecuteDeliversAndMutatesInOrder(t *testing.T) {
	sender := &fakeSender{}
	state := &fakeState{}
	bus := &recordingBus{}
	exec := NewExecutor(sender, nil, state, bus, logger.New("development"))

	plan := &domain.Plan{
		DecisionID: "dec_abc123def456",
		Actions: []domain.Action{
			{Type: domain.ActionSetFacts, SetFacts: map[string]any{"can_deposit": true}},
			{Type: domain.ActionSendMessage, Text: "liberado", AutomationID: "liberar_teste"},
			{Type: domain.ActionClearWaiting},
		},
	}

	res := exec.Execute(context.Background(), testLead(), plan)

	if res.Executed != 3 || res.Delivered != 1 || len(res.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(state.facts) != 1 || state.facts[0]["can_deposit"] != true {
		t.Fatalf("facts not applied: %+v", state.facts)
	}
	if state.cleared != 1 {
		t.Fatalf("clear_waiting calls = %d, want 1", state.cleared)
	}
	if len(sender.calls) != 1 || sender.calls[0].chatID != "4242" {
		t.Fatalf("unexpected sends: %+v", sender.calls)
	}
}

func TestFailedDeliveryDoesNotBlockStateActions(t *testing.T) {
	sender := &fakeSender{failOn: "send_message"}
	state := &fakeState{}
	exec := NewExecutor(sender, nil, state, &recordingBus{}, logger.New("development"))

	plan := &domain.Plan{
		DecisionID: "dec_abc123def456",
		Actions: []domain.Action{
			{Type: domain.ActionSendMessage, Text: "oi"},
			{Type: domain.ActionClearWaiting},
		},
	}

	res := exec.Execute(context.Background(), testLead(), plan)

	if res.Delivered != 0 || len(res.Failures) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if state.cleared != 1 {
		t.Fatalf("clear_waiting should still run after a failed send")
	}
}

func TestAutomationSentCarriesConfirmTarget(t *testing.T) {
	sender := &fakeSender{}
	bus := &recordingBus{}
	exec := NewExecutor(sender, nil, &fakeState{}, bus, logger.New("development"))

	plan := &domain.Plan{
		DecisionID: "dec_abc123def456",
		Actions: []domain.Action{
			{
				Type:         domain.ActionSendButtons,
				Text:         "Você consegue depositar?",
				Buttons:      []domain.Button{{Label: "Sim", Value: "sim"}, {Label: "Não", Value: "nao"}},
				AutomationID: "perguntar_deposito",
				ExpectsReply: &domain.ExpectsReply{Target: "confirm_can_deposit"},
			},
		},
	}

	exec.Execute(context.Background(), testLead(), plan)

	if len(bus.events) != 1 {
		t.Fatalf("published %d events, want 1", len(bus.events))
	}
	sent, ok := bus.events[0].(events.AutomationSent)
	if !ok {
		t.Fatalf("unexpected event type %T", bus.events[0])
	}
	if !sent.ExpectsReply || sent.ConfirmTarget != "confirm_can_deposit" {
		t.Fatalf("confirm target not propagated: %+v", sent)
	}
	if sent.ProviderMessageID == "" {
		t.Fatalf("provider message id missing")
	}
	if sent.AutomationID != "perguntar_deposito" {
		t.Fatalf("automation id = %q", sent.AutomationID)
	}
}

func TestMediaKeyIsPresignedBeforeSend(t *testing.T) {
	sender := &fakeSender{}
	exec := NewExecutor(sender, fixedPresigner{url: "https://cdn.example"}, &fakeState{}, &recordingBus{}, logger.New("development"))

	plan := &domain.Plan{
		DecisionID: "dec_abc123def456",
		Actions: []domain.Action{
			{Type: domain.ActionSendMedia, MediaKey: "guides/deposito.png", Text: "passo a passo"},
		},
	}

	res := exec.Execute(context.Background(), testLead(), plan)

	if res.Delivered != 1 {
		t.Fatalf("media not delivered: %+v", res)
	}
	if sender.calls[0].url != "https://cdn.example/guides/deposito.png" {
		t.Fatalf("presigned url not used: %q", sender.calls[0].url)
	}
}

func TestTrackActionRecordsJourneyEvent(t *testing.T) {
	state := &fakeState{}
	exec := NewExecutor(&fakeSender{}, nil, state, &recordingBus{}, logger.New("development"))

	plan := &domain.Plan{
		DecisionID: "dec_abc123def456",
		Actions: []domain.Action{
			{Type: domain.ActionTrack, Track: "teste_liberado", AutomationID: "liberar_teste"},
		},
	}

	exec.Execute(context.Background(), testLead(), plan)

	if len(state.journeys) != 2 || state.journeys[0] != "track" || state.journeys[1] != "plan_executed" {
		t.Fatalf("journey events = %v", state.journeys)
	}
}
