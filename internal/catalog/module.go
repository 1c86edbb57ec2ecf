// Package catalog provides the policy catalog bounded context: automations,
// procedure funnels and confirmation targets loaded from YAML.
package catalog

import (
	"time"

	"leadflow_backend/internal/catalog/handler"
	"leadflow_backend/internal/catalog/repository"
	"leadflow_backend/internal/catalog/service"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/logger"
)

// Module is the catalog bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the catalog module.
func NewModule(dir string, cacheTTL time.Duration, log *logger.Logger) *Module {
	repo := repository.NewFS(dir)
	svc := service.New(repo, cacheTTL, log)
	h := handler.New(svc)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "catalog"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts catalog routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	adminGroup := ctx.Admin.Group("/catalog")
	adminGroup.GET("/automations", m.handler.ListAutomations)
	adminGroup.POST("/reload", m.handler.Reload)
}

// Compile-time check that Module implements the HTTP module interface.
var _ apphttp.Module = (*Module)(nil)
