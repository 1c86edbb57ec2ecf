// Package planner renders plan actions before delivery: placeholder
// substitution from the lead context, personalization, and platform length
// limits.
package planner

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"leadflow_backend/internal/engine/domain"
)

// maxMessageLength matches the Telegram text limit.
const maxMessageLength = 4096

var placeholderRe = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// Render substitutes placeholders in every action of the plan. Unknown
// placeholders are left untouched so a typo in the catalog stays visible.
func Render(plan *domain.Plan, env *domain.Environment) *domain.Plan {
	if plan == nil {
		return nil
	}
	vars := buildVars(env)
	for i := range plan.Actions {
		renderAction(&plan.Actions[i], vars)
	}
	return plan
}

func renderAction(a *domain.Action, vars map[string]string) {
	a.Text = clampLength(substitute(a.Text, vars))
	a.MediaURL = substitute(a.MediaURL, vars)
	a.Track = substitute(a.Track, vars)
	for i := range a.Buttons {
		a.Buttons[i].Label = substitute(a.Buttons[i].Label, vars)
		a.Buttons[i].Value = substitute(a.Buttons[i].Value, vars)
	}
	for k, v := range a.SetFacts {
		if s, ok := v.(string); ok {
			a.SetFacts[k] = substitute(s, vars)
		}
	}
}

// substitute replaces $name and ${name} placeholders, keeping unknown ones.
func substitute(text string, vars map[string]string) string {
	if text == "" || !strings.Contains(text, "$") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.Trim(strings.TrimPrefix(m, "$"), "{}")
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// buildVars collects the substitution variables with safe defaults.
func buildVars(env *domain.Environment) map[string]string {
	vars := map[string]string{
		"lead_name":         "usuário",
		"bot_name":          envOr("BOT_NAME", "LeadFlow"),
		"deposit_help_link": envOr("DEPOSIT_HELP_LINK", "https://example.com/help"),
		"support_link":      envOr("SUPPORT_LINK", "https://example.com/support"),
	}
	if env == nil {
		return vars
	}
	if env.Lead.Name != "" {
		vars["lead_name"] = env.Lead.Name
	}
	for broker, acct := range env.Snapshot.Accounts {
		if acct.Status != domain.AccountUnknown {
			vars[broker+"_status"] = string(acct.Status)
		}
	}
	if env.Snapshot.Deposit != domain.DepositNone {
		vars["deposit_status"] = string(env.Snapshot.Deposit)
	}
	return vars
}

// clampLength truncates at a word boundary when the text exceeds the
// platform limit.
func clampLength(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	cut := text[:maxMessageLength-3]
	threshold := float64(maxMessageLength) * 0.8
	if i := strings.LastIndex(cut, " "); i > int(threshold) {
		cut = cut[:i]
	}
	return cut + "..."
}

// AddUTM appends UTM query parameters to a URL.
func AddUTM(url string, utm map[string]string) string {
	if url == "" || len(utm) == 0 {
		return url
	}
	keys := []string{"source", "medium", "campaign", "term", "content"}
	var params []string
	for _, k := range keys {
		if v, ok := utm[k]; ok && v != "" {
			params = append(params, fmt.Sprintf("utm_%s=%s", k, v))
		}
	}
	if len(params) == 0 {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + strings.Join(params, "&")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
