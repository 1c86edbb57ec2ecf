package snapshot

import (
	"fmt"
	"strings"

	"leadflow_backend/internal/engine/domain"
)

// mergeAccount keeps the higher-ranked status. The account id follows the
// winning side, except that an existing id is never blanked.
func mergeAccount(current, incoming domain.Account) domain.Account {
	if incoming.Status.Rank() < current.Status.Rank() {
		if current.AccountID == "" && incoming.AccountID != "" {
			current.AccountID = incoming.AccountID
		}
		return current
	}
	if incoming.Status.Rank() == current.Status.Rank() {
		if incoming.AccountID != "" {
			current.AccountID = incoming.AccountID
		}
		return current
	}
	if incoming.AccountID == "" {
		incoming.AccountID = current.AccountID
	}
	return incoming
}

// mergeDeposit keeps the higher-ranked deposit status.
func mergeDeposit(current, incoming domain.DepositStatus) domain.DepositStatus {
	if incoming.Rank() > current.Rank() {
		return incoming
	}
	if current == "" {
		return domain.DepositNone
	}
	return current
}

// ApplyFacts applies a set_facts payload to the snapshot and returns the new
// snapshot plus the list of fact keys that actually changed. Unknown keys
// are reported as errors; ladder facts never regress; boolean intent and
// agreement facts only move to true.
func ApplyFacts(snap domain.Snapshot, facts map[string]any) (domain.Snapshot, []string, error) {
	out := snap
	if out.Accounts != nil {
		accounts := make(map[string]domain.Account, len(out.Accounts))
		for k, v := range out.Accounts {
			accounts[k] = v
		}
		out.Accounts = accounts
	} else {
		out.Accounts = make(map[string]domain.Account)
	}
	if out.Deposit == "" {
		out.Deposit = domain.DepositNone
	}

	var changed []string
	for key, raw := range facts {
		switch {
		case key == "can_deposit":
			if asBool(raw) && !out.Agreements.AgreedToDeposit {
				out.Agreements.AgreedToDeposit = true
				changed = append(changed, key)
			}
		case key == "explained":
			if asBool(raw) && !out.Agreements.Explained {
				out.Agreements.Explained = true
				changed = append(changed, key)
			}
		case key == "wants_test":
			if asBool(raw) && !out.Wants.Test {
				out.Wants.Test = true
				changed = append(changed, key)
			}
		case key == "wants_deposit":
			if asBool(raw) && !out.Wants.Deposit {
				out.Wants.Deposit = true
				changed = append(changed, key)
			}
		case key == "deposit_status":
			incoming := domain.DepositStatus(fmt.Sprintf("%v", raw))
			merged := mergeDeposit(out.Deposit, incoming)
			if merged != out.Deposit {
				out.Deposit = merged
				changed = append(changed, key)
			}
		case key == "email":
			if v := asString(raw); v != "" && out.Profile.Email != v {
				out.Profile.Email = v
				changed = append(changed, key)
			}
		case key == "phone":
			if v := asString(raw); v != "" && out.Profile.Phone != v {
				out.Profile.Phone = v
				changed = append(changed, key)
			}
		case key == "name":
			if v := asString(raw); v != "" && out.Profile.Name != v {
				out.Profile.Name = v
				changed = append(changed, key)
			}
		case strings.HasPrefix(key, "account:"):
			broker := strings.TrimPrefix(key, "account:")
			incoming := domain.Account{Status: domain.AccountStatus(asString(raw))}
			merged := mergeAccount(out.Account(broker), incoming)
			if merged != out.Account(broker) {
				out.Accounts[broker] = merged
				changed = append(changed, key)
			} else {
				out.Accounts[broker] = merged
			}
		case strings.HasPrefix(key, "account_id:"):
			broker := strings.TrimPrefix(key, "account_id:")
			incoming := domain.Account{Status: domain.AccountCandidate, AccountID: asString(raw)}
			merged := mergeAccount(out.Account(broker), incoming)
			if merged != out.Account(broker) {
				out.Accounts[broker] = merged
				changed = append(changed, key)
			} else {
				out.Accounts[broker] = merged
			}
		default:
			return snap, nil, fmt.Errorf("unknown fact key %q", key)
		}
	}

	return out, changed, nil
}

func asBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func asString(raw any) string {
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
