package snapshot

import (
	"testing"

	"leadflow_backend/internal/engine/domain"
)

func TestExtractCandidatesEmailAndIntent(t *testing.T) {
	candidates := ExtractCandidates("quero liberar o teste, meu email é joao@example.com")

	var email, intent *domain.Candidate
	for i := range candidates {
		switch candidates[i].Type {
		case domain.CandidateEmail:
			email = &candidates[i]
		case domain.CandidateIntent:
			intent = &candidates[i]
		}
	}

	if email == nil || email.Value != "joao@example.com" {
		t.Fatalf("email candidate = %+v", email)
	}
	if intent == nil || intent.Value != "teste" {
		t.Fatalf("intent candidate = %+v", intent)
	}
}

func TestExtractCandidatesBrokerID(t *testing.T) {
	candidates := ExtractCandidates("minha conta é 12345678")

	found := false
	for _, cand := range candidates {
		if cand.Type == domain.CandidateAccountID && cand.Broker == "nyrion" {
			if cand.Value != "12345678" {
				t.Fatalf("nyrion id = %q", cand.Value)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected a nyrion account id candidate")
	}
}

func TestExtractCandidatesLastMatchWins(t *testing.T) {
	candidates := ExtractCandidates("a@x.com depois troquei para b@y.com")
	for _, cand := range candidates {
		if cand.Type == domain.CandidateEmail && cand.Value != "b@y.com" {
			t.Fatalf("expected last email to win, got %q", cand.Value)
		}
	}
}

func TestExtractCandidatesEmptyText(t *testing.T) {
	if got := ExtractCandidates("   "); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestMergeCandidatesDoesNotRegressAccount(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.Accounts["nyrion"] = domain.Account{Status: domain.AccountVerified, AccountID: "999999"}

	merged := MergeCandidates(snap, []domain.Candidate{
		{Type: domain.CandidateAccountID, Broker: "nyrion", Value: "123456", Confidence: 0.6},
	})

	acc := merged.Account("nyrion")
	if acc.Status != domain.AccountVerified {
		t.Fatalf("status regressed to %q", acc.Status)
	}
	if acc.AccountID != "999999" {
		t.Fatalf("verified account id was overwritten: %q", acc.AccountID)
	}
}

func TestMergeCandidatesPromotesUnknownToCandidate(t *testing.T) {
	snap := domain.NewSnapshot()
	merged := MergeCandidates(snap, []domain.Candidate{
		{Type: domain.CandidateAccountID, Broker: "quotex", Value: "abc123", Confidence: 0.6},
	})

	acc := merged.Account("quotex")
	if acc.Status != domain.AccountCandidate || acc.AccountID != "abc123" {
		t.Fatalf("account = %+v", acc)
	}
}

func TestMergeCandidatesWantsAreSetTrueOnly(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.Wants.Test = true

	merged := MergeCandidates(snap, []domain.Candidate{
		{Type: domain.CandidateIntent, Value: "deposito", Confidence: 0.7},
	})

	if !merged.Wants.Test {
		t.Fatal("wants.test flipped back to false")
	}
	if !merged.Wants.Deposit {
		t.Fatal("wants.deposit not set")
	}
}

func TestApplyFactsNonRegression(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.Deposit = domain.DepositConfirmed

	out, changed, err := ApplyFacts(snap, map[string]any{"deposit_status": "pending"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Deposit != domain.DepositConfirmed {
		t.Fatalf("deposit regressed to %q", out.Deposit)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changes, got %v", changed)
	}
}

func TestApplyFactsCanDeposit(t *testing.T) {
	snap := domain.NewSnapshot()

	out, changed, err := ApplyFacts(snap, map[string]any{"can_deposit": true})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !out.Agreements.AgreedToDeposit {
		t.Fatal("can_deposit not applied")
	}
	if len(changed) != 1 || changed[0] != "can_deposit" {
		t.Fatalf("changed = %v", changed)
	}

	// Re-applying is a no-op.
	_, changed, _ = ApplyFacts(out, map[string]any{"can_deposit": true})
	if len(changed) != 0 {
		t.Fatalf("expected idempotent apply, got %v", changed)
	}
}

func TestApplyFactsUnknownKey(t *testing.T) {
	if _, _, err := ApplyFacts(domain.NewSnapshot(), map[string]any{"bogus": 1}); err == nil {
		t.Fatal("expected error for unknown fact key")
	}
}

func TestApplyFactsAccountLadder(t *testing.T) {
	snap := domain.NewSnapshot()

	out, _, err := ApplyFacts(snap, map[string]any{"account:quotex": "has_account"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Account("quotex").Status != domain.AccountHasAccount {
		t.Fatalf("status = %q", out.Account("quotex").Status)
	}

	out2, changed, err := ApplyFacts(out, map[string]any{"account:quotex": "candidate"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out2.Account("quotex").Status != domain.AccountHasAccount {
		t.Fatalf("account ladder regressed: %q", out2.Account("quotex").Status)
	}
	if len(changed) != 0 {
		t.Fatalf("changed = %v", changed)
	}
}
