// Package rules compiles the PT-BR eligibility vocabulary used by catalog
// automations and procedure steps into typed predicates evaluated against
// the lead snapshot. Compilation happens once at catalog load; evaluation
// is a pure function of the snapshot.
package rules

import (
	"fmt"
	"strings"

	"leadflow_backend/internal/engine/domain"
)

// Fact selects which snapshot field a predicate inspects.
type Fact int

const (
	FactAgreedToDeposit Fact = iota
	FactExplained
	FactDeposit
	FactAnyAccount
	FactWantsTest
)

// Op is the comparison applied to the selected fact.
type Op int

const (
	// OpIsTrue / OpIsFalse apply to boolean facts and to FactAnyAccount
	// (any broker above unknown).
	OpIsTrue Op = iota
	OpIsFalse
	// OpRankAtLeast / OpRankBelow / OpRankEquals apply to ladder facts.
	OpRankAtLeast
	OpRankBelow
	OpRankEquals
)

// Predicate is one compiled check.
type Predicate struct {
	Fact Fact
	Op   Op
	Rank int
}

// Eval evaluates the predicate against a snapshot.
func (p Predicate) Eval(snap *domain.Snapshot) bool {
	switch p.Fact {
	case FactAgreedToDeposit:
		return boolOp(p.Op, snap.Agreements.AgreedToDeposit)
	case FactExplained:
		return boolOp(p.Op, snap.Agreements.Explained)
	case FactWantsTest:
		return boolOp(p.Op, snap.Wants.Test)
	case FactDeposit:
		return rankOp(p.Op, snap.Deposit.Rank(), p.Rank)
	case FactAnyAccount:
		return boolOp(p.Op, anyAccountKnown(snap))
	default:
		return false
	}
}

func boolOp(op Op, value bool) bool {
	switch op {
	case OpIsTrue:
		return value
	case OpIsFalse:
		return !value
	default:
		return false
	}
}

func rankOp(op Op, got, want int) bool {
	switch op {
	case OpRankAtLeast:
		return got >= want
	case OpRankBelow:
		return got < want
	case OpRankEquals:
		return got == want
	default:
		return false
	}
}

// A broker counts as known once it is at least a candidate.
func anyAccountKnown(snap *domain.Snapshot) bool {
	for _, acc := range snap.Accounts {
		if acc.Status.Rank() >= domain.AccountCandidate.Rank() {
			return true
		}
	}
	return false
}

// Rule is a conjunction of predicates compiled from one vocabulary string.
type Rule struct {
	Source     string
	Predicates []Predicate
}

// Satisfied reports whether every predicate holds.
func (r Rule) Satisfied(snap *domain.Snapshot) bool {
	for _, p := range r.Predicates {
		if !p.Eval(snap) {
			return false
		}
	}
	return true
}

// phrase table. Negated forms come first so the positive form can exclude
// them; each direction is its own explicit entry.
var phrases = []struct {
	text      string
	excludes  string
	predicate Predicate
}{
	{text: "não concordou em depositar", predicate: Predicate{Fact: FactAgreedToDeposit, Op: OpIsFalse}},
	{text: "concordou em depositar", excludes: "não concordou", predicate: Predicate{Fact: FactAgreedToDeposit, Op: OpIsTrue}},
	{text: "não depositou", predicate: Predicate{Fact: FactDeposit, Op: OpRankBelow, Rank: domain.DepositPending.Rank()}},
	{text: "já depositou", predicate: Predicate{Fact: FactDeposit, Op: OpRankAtLeast, Rank: domain.DepositPending.Rank()}},
	{text: "depósito confirmado", predicate: Predicate{Fact: FactDeposit, Op: OpRankEquals, Rank: domain.DepositConfirmed.Rank()}},
	{text: "não tem conta", predicate: Predicate{Fact: FactAnyAccount, Op: OpIsFalse}},
	{text: "tem conta", excludes: "não tem conta", predicate: Predicate{Fact: FactAnyAccount, Op: OpIsTrue}},
	{text: "não foi explicado", predicate: Predicate{Fact: FactExplained, Op: OpIsFalse}},
	{text: "foi explicado", excludes: "não foi explicado", predicate: Predicate{Fact: FactExplained, Op: OpIsTrue}},
	{text: "quer teste", predicate: Predicate{Fact: FactWantsTest, Op: OpIsTrue}},
}

// Compile parses a vocabulary string into a Rule. An empty string compiles
// to the always-true rule. A string containing no known phrase is an error;
// callers treat uncompilable rules as never satisfied.
func Compile(rule string) (Rule, error) {
	compiled := Rule{Source: rule}
	trimmed := strings.TrimSpace(strings.ToLower(rule))
	if trimmed == "" {
		return compiled, nil
	}

	for _, entry := range phrases {
		if !strings.Contains(trimmed, entry.text) {
			continue
		}
		if entry.excludes != "" && strings.Contains(trimmed, entry.excludes) {
			continue
		}
		compiled.Predicates = append(compiled.Predicates, entry.predicate)
	}

	if len(compiled.Predicates) == 0 {
		return compiled, fmt.Errorf("rule %q has no recognized vocabulary", rule)
	}
	return compiled, nil
}

// MustCompile is Compile for static rules in tests and fixtures.
func MustCompile(rule string) Rule {
	compiled, err := Compile(rule)
	if err != nil {
		panic(err)
	}
	return compiled
}
