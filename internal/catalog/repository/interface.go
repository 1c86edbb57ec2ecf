package repository

import "context"

// Repository loads the raw policy specs. The file-system implementation is
// the production one; tests swap in fixtures.
type Repository interface {
	LoadAutomations(ctx context.Context) ([]AutomationSpec, error)
	LoadProcedures(ctx context.Context) ([]ProcedureSpec, error)
	LoadTargets(ctx context.Context) (map[string]TargetSpec, error)
}
