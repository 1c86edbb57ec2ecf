// Package service compiles and caches the automation catalog, the procedure
// funnels and the confirmation targets. Eligibility rules are compiled once
// per load; an uncompilable rule marks its owner as never eligible rather
// than failing the whole catalog.
package service

import (
	"context"
	"sync"
	"time"

	"leadflow_backend/internal/catalog/repository"
	"leadflow_backend/internal/engine/rules"
	"leadflow_backend/platform/logger"
)

// Automation is a catalog entry with its compiled eligibility rule.
// Index preserves catalog order for stable tie-breaking.
type Automation struct {
	repository.AutomationSpec
	Rule   rules.Rule
	RuleOK bool
	Index  int
}

// Step is a procedure step with its compiled condition.
type Step struct {
	repository.StepSpec
	Rule   rules.Rule
	RuleOK bool
}

// Procedure is a compiled funnel.
type Procedure struct {
	ID    string
	Title string
	Steps []Step
}

// Target is a confirmation target with defaults applied.
type Target struct {
	Name          string
	MaxAgeMinutes int
	OnYes         *repository.OutcomeSpec
	OnNo          *repository.OutcomeSpec
}

// DefaultTargetMaxAgeMinutes applies when a target omits max_age_minutes.
const DefaultTargetMaxAgeMinutes = 30

type loaded struct {
	automations []Automation
	byID        map[string]*Automation
	procedures  map[string]*Procedure
	targets     map[string]*Target
	loadedAt    time.Time
}

// Service is the injected catalog cache. It reloads from the repository when
// the TTL lapses or after Invalidate.
type Service struct {
	repo repository.Repository
	log  *logger.Logger
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	current *loaded
}

// New creates a catalog service. A zero ttl caches forever until Invalidate.
func New(repo repository.Repository, ttl time.Duration, log *logger.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Invalidate drops the cached catalog; the next read reloads.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Automations returns the catalog in file order.
func (s *Service) Automations(ctx context.Context) ([]Automation, error) {
	l, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return l.automations, nil
}

// AutomationIDs returns just the ids, in file order. Load errors yield an
// empty list.
func (s *Service) AutomationIDs(ctx context.Context) []string {
	autos, err := s.Automations(ctx)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(autos))
	for _, a := range autos {
		ids = append(ids, a.ID)
	}
	return ids
}

// AutomationByID looks up one automation. The second return is false when
// the id is not in the catalog.
func (s *Service) AutomationByID(ctx context.Context, id string) (*Automation, bool, error) {
	l, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	a, ok := l.byID[id]
	return a, ok, nil
}

// ProcedureByID looks up one compiled procedure.
func (s *Service) ProcedureByID(ctx context.Context, id string) (*Procedure, bool, error) {
	l, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	p, ok := l.procedures[id]
	return p, ok, nil
}

// Target looks up one confirmation target.
func (s *Service) Target(ctx context.Context, name string) (*Target, bool, error) {
	l, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	t, ok := l.targets[name]
	return t, ok, nil
}

// TargetAllowed reports whether the target name is in the configured set.
// With an empty targets file the built-in pair stays allowed so armed waits
// survive a config wipe.
func (s *Service) TargetAllowed(ctx context.Context, name string) bool {
	l, err := s.load(ctx)
	if err != nil {
		return false
	}
	if len(l.targets) == 0 {
		return name == "confirm_can_deposit" || name == "confirm_created_account"
	}
	_, ok := l.targets[name]
	return ok
}

// Empty reports whether the automation catalog has no entries.
func (s *Service) Empty(ctx context.Context) bool {
	l, err := s.load(ctx)
	if err != nil {
		return true
	}
	return len(l.automations) == 0
}

func (s *Service) load(ctx context.Context) (*loaded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && (s.ttl <= 0 || s.now().Sub(s.current.loadedAt) < s.ttl) {
		return s.current, nil
	}

	specs, err := s.repo.LoadAutomations(ctx)
	if err != nil {
		return nil, err
	}
	procSpecs, err := s.repo.LoadProcedures(ctx)
	if err != nil {
		return nil, err
	}
	targetSpecs, err := s.repo.LoadTargets(ctx)
	if err != nil {
		return nil, err
	}

	l := &loaded{
		byID:       make(map[string]*Automation, len(specs)),
		procedures: make(map[string]*Procedure, len(procSpecs)),
		targets:    make(map[string]*Target, len(targetSpecs)),
		loadedAt:   s.now(),
	}

	l.automations = make([]Automation, 0, len(specs))
	for i, spec := range specs {
		auto := Automation{AutomationSpec: spec, Index: i}
		auto.Rule, err = rules.Compile(spec.Eligibility)
		auto.RuleOK = err == nil
		if err != nil {
			s.log.Warn("automation rule failed to compile", "automation", spec.ID, "error", err)
		}
		l.automations = append(l.automations, auto)
	}
	for i := range l.automations {
		l.byID[l.automations[i].ID] = &l.automations[i]
	}

	for _, spec := range procSpecs {
		proc := &Procedure{ID: spec.ID, Title: spec.Title}
		for _, stepSpec := range spec.Steps {
			step := Step{StepSpec: stepSpec}
			step.Rule, err = rules.Compile(stepSpec.Condition)
			step.RuleOK = err == nil
			if err != nil {
				s.log.Warn("procedure step rule failed to compile",
					"procedure", spec.ID, "step", stepSpec.Name, "error", err)
			}
			proc.Steps = append(proc.Steps, step)
		}
		l.procedures[proc.ID] = proc
	}

	for name, spec := range targetSpecs {
		target := &Target{
			Name:          name,
			MaxAgeMinutes: spec.MaxAgeMinutes,
			OnYes:         spec.OnYes,
			OnNo:          spec.OnNo,
		}
		if target.MaxAgeMinutes <= 0 {
			target.MaxAgeMinutes = DefaultTargetMaxAgeMinutes
		}
		l.targets[name] = target
	}

	s.current = l
	s.log.Info("catalog loaded",
		"automations", len(l.automations),
		"procedures", len(l.procedures),
		"targets", len(l.targets),
	)
	return l, nil
}
