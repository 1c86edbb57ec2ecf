// Package snapshot builds the deterministic lead snapshot: it extracts
// candidate facts from the inbound text with regexes and anchors, and merges
// them into the stored snapshot without ever regressing a fact.
package snapshot

import (
	"regexp"
	"strings"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/phone"
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[\d\s\-\(\)]{10,}`)

	// Broker account id shapes, per intake policy.
	brokerIDRes = map[string]*regexp.Regexp{
		"nyrion": regexp.MustCompile(`\b[0-9]{6,12}\b`),
		"quotex": regexp.MustCompile(`\b[a-zA-Z0-9]{6,16}\b`),
	}
)

// Intent anchor words, matched on the lowercased message.
var intentAnchors = []struct {
	intent string
	words  []string
}{
	{"teste", []string{"quero", "teste", "liberar"}},
	{"deposito", []string{"deposito", "depósito", "valor"}},
	{"duvida", []string{"ajuda", "como", "dúvida"}},
}

// ExtractCandidates pulls evidence out of the message text. The last match
// of each kind wins.
func ExtractCandidates(text string) []domain.Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var candidates []domain.Candidate
	lower := strings.ToLower(text)

	if emails := emailRe.FindAllString(text, -1); len(emails) > 0 {
		candidates = append(candidates, domain.Candidate{
			Type:       domain.CandidateEmail,
			Value:      emails[len(emails)-1],
			Confidence: 0.9,
		})
	}

	if phones := phoneRe.FindAllString(text, -1); len(phones) > 0 {
		raw := strings.TrimSpace(phones[len(phones)-1])
		conf := 0.5
		if phone.IsPlausible(raw) {
			raw = phone.NormalizeE164(raw)
			conf = 0.9
		}
		candidates = append(candidates, domain.Candidate{
			Type:       domain.CandidatePhone,
			Value:      raw,
			Confidence: conf,
		})
	}

	for broker, re := range brokerIDRes {
		if ids := re.FindAllString(text, -1); len(ids) > 0 {
			candidates = append(candidates, domain.Candidate{
				Type:       domain.CandidateAccountID,
				Value:      ids[len(ids)-1],
				Broker:     broker,
				Confidence: 0.6,
			})
		}
	}

	for _, anchor := range intentAnchors {
		if containsAny(lower, anchor.words) {
			candidates = append(candidates, domain.Candidate{
				Type:       domain.CandidateIntent,
				Value:      anchor.intent,
				Confidence: 0.7,
			})
			break
		}
	}

	return candidates
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

// Build produces the environment for one inbound message: stored snapshot
// enriched with freshly extracted candidates.
func Build(lead domain.Lead, stored domain.Snapshot, window []domain.Message) domain.Environment {
	text := ""
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Direction == "in" {
			text = window[i].Text
			break
		}
	}

	candidates := ExtractCandidates(text)
	merged := MergeCandidates(stored, candidates)

	return domain.Environment{
		Lead:           lead,
		Snapshot:       merged,
		Candidates:     candidates,
		MessagesWindow: window,
		Apply:          true,
	}
}

// MergeCandidates folds extracted candidates into the snapshot, respecting
// the fact ladders.
func MergeCandidates(snap domain.Snapshot, candidates []domain.Candidate) domain.Snapshot {
	out := snap
	if out.Accounts == nil {
		out.Accounts = make(map[string]domain.Account)
	} else {
		accounts := make(map[string]domain.Account, len(out.Accounts))
		for k, v := range out.Accounts {
			accounts[k] = v
		}
		out.Accounts = accounts
	}
	if out.Deposit == "" {
		out.Deposit = domain.DepositNone
	}

	for _, cand := range candidates {
		switch cand.Type {
		case domain.CandidateEmail:
			if out.Profile.Email == "" {
				out.Profile.Email = cand.Value
			}
		case domain.CandidatePhone:
			if out.Profile.Phone == "" && cand.Confidence >= 0.9 {
				out.Profile.Phone = cand.Value
			}
		case domain.CandidateAccountID:
			out.Accounts[cand.Broker] = mergeAccount(out.Account(cand.Broker), domain.Account{
				Status:    domain.AccountCandidate,
				AccountID: cand.Value,
			})
		case domain.CandidateIntent:
			switch cand.Value {
			case "teste":
				out.Wants.Test = true
			case "deposito":
				out.Wants.Deposit = true
			}
		}
	}

	return out
}
