// Package app provides application-level wiring for the role lifecycle
// engine following hexagonal architecture.
package app

import (
	"database/sql"
	"log/slog"

	"roleledger/internal/config"
	"roleledger/internal/db/repository"
	"roleledger/internal/domain"
	"roleledger/internal/service"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config, the platform client, and the root logger.
type Deps struct {
	Cfg      *config.Config
	WriteDB  *sql.DB
	ReadDB   *sql.DB
	Platform domain.PlatformClient
	Logger   *slog.Logger
}

// App holds the fully-wired engine: the trigger-facing Engine, the two
// sweeps under their scheduler, and the read services the API serves.
type App struct {
	Engine    *service.Engine
	Scheduler *service.Scheduler
	Ledger    *service.LedgerService
	Audit     *service.AuditService
}

// New wires all repositories, services, and sweeps from the provided deps.
func New(deps Deps) *App {
	// Mutation goes through the write pool; dashboard reads use the read pool.
	ruleRepo := repository.NewRuleRepo(deps.WriteDB)
	assignmentRepo := repository.NewAssignmentRepo(deps.WriteDB)
	ticketRepo := repository.NewTicketRepo(deps.WriteDB)
	auditRepo := repository.NewAuditRepo(deps.WriteDB)

	readAssignments := repository.NewAssignmentRepo(deps.ReadDB)
	readTickets := repository.NewTicketRepo(deps.ReadDB)
	readAudit := repository.NewAuditRepo(deps.ReadDB)

	engine := service.NewEngine(
		ruleRepo, assignmentRepo, ticketRepo, auditRepo, deps.Platform,
		deps.Logger.With("component", "engine"),
	)

	expiry := service.NewExpirySweeper(
		assignmentRepo, auditRepo, deps.Platform,
		deps.Logger.With("component", "expiry-sweep"),
	)
	delayed := service.NewDelayedGrantSweeper(
		ticketRepo, assignmentRepo, auditRepo, deps.Platform, deps.Cfg.TicketRetention,
		deps.Logger.With("component", "delayed-sweep"),
	)
	scheduler := service.NewScheduler(
		deps.Cfg.SweepInterval,
		deps.Logger.With("component", "scheduler"),
		expiry, delayed,
	)

	return &App{
		Engine:    engine,
		Scheduler: scheduler,
		Ledger:    service.NewLedgerService(readAssignments, readTickets),
		Audit:     service.NewAuditService(readAudit),
	}
}
