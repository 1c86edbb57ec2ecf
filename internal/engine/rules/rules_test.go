package rules

import (
	"testing"

	"leadflow_backend/internal/engine/domain"
)

func snapWith(mutate func(*domain.Snapshot)) *domain.Snapshot {
	snap := domain.NewSnapshot()
	if mutate != nil {
		mutate(&snap)
	}
	return &snap
}

func TestCompileEmptyRuleAlwaysSatisfied(t *testing.T) {
	rule, err := Compile("")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !rule.Satisfied(snapWith(nil)) {
		t.Fatal("empty rule should always be satisfied")
	}
}

func TestCompileUnknownVocabularyFails(t *testing.T) {
	if _, err := Compile("lead mora em Marte"); err == nil {
		t.Fatal("expected error for unknown vocabulary")
	}
}

func TestDepositDirectionsAreDistinct(t *testing.T) {
	notDeposited := MustCompile("não depositou")
	deposited := MustCompile("já depositou")
	confirmed := MustCompile("depósito confirmado")

	cases := []struct {
		status           domain.DepositStatus
		wantNot, wantDep bool
		wantConf         bool
	}{
		{domain.DepositNone, true, false, false},
		{domain.DepositPending, false, true, false},
		{domain.DepositConfirmed, false, true, true},
	}
	for _, tc := range cases {
		snap := snapWith(func(s *domain.Snapshot) { s.Deposit = tc.status })
		if got := notDeposited.Satisfied(snap); got != tc.wantNot {
			t.Errorf("status %s: não depositou = %v, want %v", tc.status, got, tc.wantNot)
		}
		if got := deposited.Satisfied(snap); got != tc.wantDep {
			t.Errorf("status %s: já depositou = %v, want %v", tc.status, got, tc.wantDep)
		}
		if got := confirmed.Satisfied(snap); got != tc.wantConf {
			t.Errorf("status %s: depósito confirmado = %v, want %v", tc.status, got, tc.wantConf)
		}
	}
}

func TestAgreementDirections(t *testing.T) {
	agreed := MustCompile("concordou em depositar")
	notAgreed := MustCompile("não concordou em depositar")

	empty := snapWith(nil)
	if agreed.Satisfied(empty) {
		t.Fatal("concordou should not hold on empty snapshot")
	}
	if !notAgreed.Satisfied(empty) {
		t.Fatal("não concordou should hold on empty snapshot")
	}

	yes := snapWith(func(s *domain.Snapshot) { s.Agreements.AgreedToDeposit = true })
	if !agreed.Satisfied(yes) || notAgreed.Satisfied(yes) {
		t.Fatal("directions inverted after agreement")
	}
}

func TestAccountCandidateCountsAsHavingAccount(t *testing.T) {
	has := MustCompile("tem conta")
	hasNot := MustCompile("não tem conta")

	snap := snapWith(func(s *domain.Snapshot) {
		s.Accounts["quotex"] = domain.Account{Status: domain.AccountCandidate, AccountID: "abc123"}
	})
	if !has.Satisfied(snap) {
		t.Fatal("candidate account should satisfy tem conta")
	}
	if hasNot.Satisfied(snap) {
		t.Fatal("não tem conta should fail with a candidate account")
	}
}

func TestExplainedDirections(t *testing.T) {
	was := MustCompile("foi explicado")
	wasNot := MustCompile("não foi explicado")

	snap := snapWith(func(s *domain.Snapshot) { s.Agreements.Explained = true })
	if !was.Satisfied(snap) || wasNot.Satisfied(snap) {
		t.Fatal("explained directions wrong after explanation")
	}
}

func TestConjunction(t *testing.T) {
	rule := MustCompile("tem conta e não depositou")
	if len(rule.Predicates) != 2 {
		t.Fatalf("expected 2 predicates, got %d", len(rule.Predicates))
	}

	onlyAccount := snapWith(func(s *domain.Snapshot) {
		s.Accounts["nyrion"] = domain.Account{Status: domain.AccountVerified}
	})
	if !rule.Satisfied(onlyAccount) {
		t.Fatal("account without deposit should satisfy the conjunction")
	}

	deposited := snapWith(func(s *domain.Snapshot) {
		s.Accounts["nyrion"] = domain.Account{Status: domain.AccountVerified}
		s.Deposit = domain.DepositPending
	})
	if rule.Satisfied(deposited) {
		t.Fatal("pending deposit should break não depositou")
	}
}
