// Package intake enriches the environment before the orchestrator decides.
// When extracted candidates give enough confidence it calls the account
// verification capabilities, in parallel under a shared deadline, and folds
// verified facts into the snapshot.
package intake

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/logger"
)

// SignupVerifier checks whether a lead has a broker account matching the
// extracted identity candidates.
type SignupVerifier interface {
	VerifySignup(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// DepositChecker looks up deposits for a known account.
type DepositChecker interface {
	CheckDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error)
}

type VerifyRequest struct {
	Email     string
	AccountID string
	Broker    string
}

type VerifyResult struct {
	Verified   bool
	Accounts   []VerifiedAccount
	Confidence float64
}

type VerifiedAccount struct {
	Broker    string
	AccountID string
}

type DepositRequest struct {
	Broker    string
	AccountID string
	Email     string
}

type DepositResult struct {
	Status domain.DepositStatus
	Amount float64
}

// Strategy names reported in telemetry.
const (
	strategyDirect      = "direct"
	strategyParallel    = "parallel"
	strategyPassthrough = "passthrough"
)

// Config bounds the agent. ToolBudget caps capability calls per message and
// Timeout bounds the whole tool phase.
type Config struct {
	ToolBudget        int
	Timeout           time.Duration
	DirectThreshold   float64
	ParallelThreshold float64
}

func DefaultConfig() Config {
	return Config{
		ToolBudget:        2,
		Timeout:           3 * time.Second,
		DirectThreshold:   0.80,
		ParallelThreshold: 0.60,
	}
}

// Agent runs the pre-decision enrichment.
type Agent struct {
	cfg      Config
	verifier SignupVerifier
	deposits DepositChecker
	log      *logger.Logger
}

func New(cfg Config, verifier SignupVerifier, deposits DepositChecker, log *logger.Logger) *Agent {
	if cfg.ToolBudget <= 0 {
		cfg.ToolBudget = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Agent{cfg: cfg, verifier: verifier, deposits: deposits, log: log}
}

var anchors = map[string][]string{
	"email": {"email", "e-mail", "mail"},
	"id":    {"id", "conta", "login", "número da conta"},
}

type analysis struct {
	strategy   string
	confidence float64
	triggers   []string
	tools      []string
}

// Run enriches the environment in place and returns it. Capability failures
// never fail the turn; the snapshot simply stays as extracted.
func (a *Agent) Run(ctx context.Context, env *domain.Environment) *domain.Environment {
	plan := a.analyze(env)
	log := a.log.WithLead(env.Lead.ID)
	log.Info("intake analyzed",
		"strategy", plan.strategy,
		"confidence", plan.confidence,
		"triggers", strings.Join(plan.triggers, ","),
	)

	if plan.strategy == strategyPassthrough || len(plan.tools) == 0 {
		return env
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	switch plan.strategy {
	case strategyDirect:
		for _, tool := range plan.tools {
			a.callTool(ctx, log, env, tool)
		}
	case strategyParallel:
		g, gctx := errgroup.WithContext(ctx)
		results := make([]func(), len(plan.tools))
		for i, tool := range plan.tools {
			i, tool := i, tool
			g.Go(func() error {
				results[i] = a.prepareTool(gctx, log, env, tool)
				return nil
			})
		}
		_ = g.Wait()
		// Merges run sequentially after the joint wait so the snapshot is
		// never written from two goroutines.
		for _, merge := range results {
			if merge != nil {
				merge()
			}
		}
	}
	return env
}

// analyze scores the message and picks a strategy.
func (a *Agent) analyze(env *domain.Environment) analysis {
	text := strings.ToLower(env.InboundText())

	var (
		score    float64
		triggers []string
		hasEmail bool
		hasID    bool
	)
	for _, c := range env.Candidates {
		switch c.Type {
		case domain.CandidateEmail:
			if !hasEmail {
				score += 0.4
				triggers = append(triggers, "email_detected")
				hasEmail = true
			}
		case domain.CandidateAccountID:
			if !hasID {
				score += 0.5
				triggers = append(triggers, "broker_id_detected")
				hasID = true
			}
		}
	}
	for kind, words := range anchors {
		for _, w := range words {
			if strings.Contains(text, w) {
				score += 0.2
				triggers = append(triggers, "anchor_"+kind)
				break
			}
		}
	}
	if env.Snapshot.Wants.Test {
		score += 0.3
		triggers = append(triggers, "active_procedure")
	}
	if score > 1.0 {
		score = 1.0
	}

	out := analysis{strategy: strategyPassthrough, confidence: score, triggers: triggers}
	switch {
	case score >= a.cfg.DirectThreshold:
		out.strategy = strategyDirect
		out.tools = a.directTools(env, hasEmail, hasID)
	case score >= a.cfg.ParallelThreshold:
		out.strategy = strategyParallel
		if len(env.Candidates) > 0 {
			out.tools = []string{"verify_signup", "check_deposit"}
		}
	}
	if len(out.tools) > a.cfg.ToolBudget {
		out.tools = out.tools[:a.cfg.ToolBudget]
	}
	return out
}

func (a *Agent) directTools(env *domain.Environment, hasEmail, hasID bool) []string {
	var tools []string
	if hasEmail || hasID {
		tools = append(tools, "verify_signup")
	}
	wantsDeposit := env.Snapshot.Agreements.AgreedToDeposit
	for _, c := range env.Candidates {
		if c.Type == domain.CandidateIntent && c.Value == "deposito" {
			wantsDeposit = true
		}
	}
	if wantsDeposit {
		tools = append(tools, "check_deposit")
	}
	return tools
}

func (a *Agent) callTool(ctx context.Context, log *logger.Logger, env *domain.Environment, tool string) {
	if merge := a.prepareTool(ctx, log, env, tool); merge != nil {
		merge()
	}
}

// prepareTool runs the capability call and returns the deferred snapshot
// merge, or nil when the call failed or returned nothing.
func (a *Agent) prepareTool(ctx context.Context, log *logger.Logger, env *domain.Environment, tool string) func() {
	switch tool {
	case "verify_signup":
		if a.verifier == nil {
			return nil
		}
		res, err := a.verifier.VerifySignup(ctx, verifyRequest(env))
		if err != nil {
			log.Warn("verify_signup failed", "error", err)
			return nil
		}
		if res == nil || !res.Verified {
			return nil
		}
		return func() { mergeVerified(&env.Snapshot, res) }

	case "check_deposit":
		if a.deposits == nil {
			return nil
		}
		res, err := a.deposits.CheckDeposit(ctx, depositRequest(env))
		if err != nil {
			log.Warn("check_deposit failed", "error", err)
			return nil
		}
		if res == nil || res.Status == "" {
			return nil
		}
		return func() { mergeDeposit(&env.Snapshot, res) }
	}
	return nil
}

func verifyRequest(env *domain.Environment) VerifyRequest {
	req := VerifyRequest{Email: env.Snapshot.Profile.Email}
	for _, c := range env.Candidates {
		switch c.Type {
		case domain.CandidateEmail:
			if req.Email == "" {
				req.Email = c.Value
			}
		case domain.CandidateAccountID:
			req.AccountID = c.Value
			req.Broker = c.Broker
		}
	}
	return req
}

func depositRequest(env *domain.Environment) DepositRequest {
	req := DepositRequest{Email: env.Snapshot.Profile.Email}
	for broker, acct := range env.Snapshot.Accounts {
		if acct.AccountID != "" {
			req.Broker = broker
			req.AccountID = acct.AccountID
			break
		}
	}
	return req
}

// mergeVerified lifts accounts to verified, never regressing a stronger
// status.
func mergeVerified(snap *domain.Snapshot, res *VerifyResult) {
	for _, acct := range res.Accounts {
		if acct.Broker == "" {
			continue
		}
		cur := snap.Accounts[acct.Broker]
		if domain.AccountVerified.Rank() > cur.Status.Rank() {
			cur.Status = domain.AccountVerified
		}
		if acct.AccountID != "" && cur.AccountID == "" {
			cur.AccountID = acct.AccountID
		}
		if snap.Accounts == nil {
			snap.Accounts = make(map[string]domain.Account)
		}
		snap.Accounts[acct.Broker] = cur
	}
}

func mergeDeposit(snap *domain.Snapshot, res *DepositResult) {
	if res.Status.Rank() > snap.Deposit.Rank() {
		snap.Deposit = res.Status
	}
}
