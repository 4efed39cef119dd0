package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/config"
	"github.com/lucasnoah/fixloop/internal/db"
	"github.com/lucasnoah/fixloop/internal/logging"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/patch"
	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/runstore"
	"github.com/lucasnoah/fixloop/internal/safety"
	"github.com/lucasnoah/fixloop/internal/sandbox"
	"github.com/lucasnoah/fixloop/internal/scanner"
	"github.com/lucasnoah/fixloop/internal/stage"
	"github.com/lucasnoah/fixloop/internal/ticket"
	"github.com/lucasnoah/fixloop/internal/worktree"
)

// app holds what every command needs: the resolved config and a logger.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newApp() (*app, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// store opens the run store, honouring run.state_dir.
func (a *app) store() (*runstore.Store, error) {
	if dir := a.cfg.Run.StateDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
		return runstore.NewStore(dir), nil
	}
	return runstore.DefaultStore()
}

// worktrees returns the manager for per-run worktrees, honouring run.worktree_dir.
func (a *app) worktrees() (*worktree.Manager, error) {
	dir := a.cfg.Run.WorktreeDir
	if dir == "" {
		var err error
		if dir, err = worktree.DefaultBaseDir(); err != nil {
			return nil, err
		}
	}
	return worktree.NewManager(&worktree.ExecGit{}, dir), nil
}

// openAudit opens and migrates the audit database.
func (a *app) openAudit() (*db.DB, error) {
	dsn := a.cfg.Audit.DSN
	if dsn == "" {
		p, err := db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		dsn = p
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return d, nil
}

// auditOrNil opens the audit database unless disabled. Failures are logged, not fatal.
func (a *app) auditOrNil() *db.DB {
	if a.cfg.Audit.Disabled {
		return nil
	}
	d, err := a.openAudit()
	if err != nil {
		a.logger.Warn("audit database unavailable; continuing without it", zap.Error(err))
		return nil
	}
	return d
}

// engine wires the stage engine. client may be nil for commands that never reach selection.
func (a *app) engine(gw sandbox.Gateway, client oracle.Client) *stage.Engine {
	pol := policy.New(a.cfg.PolicyOptions())

	var secrets safety.SecretScanner
	if gl, err := safety.NewGitleaks(); err != nil {
		a.logger.Warn("secret scanning disabled", zap.Error(err))
	} else {
		secrets = gl
	}

	v := a.cfg.Verification
	return stage.NewEngine(stage.Deps{
		Scanner: scanner.New(a.logger),
		Checks:  checks.NewRunner(gw, a.logger),
		Oracle:  client,
		Files:   patch.Files{},
		Policy:  pol,
		Gate:    safety.New(pol, secrets, a.logger),
		Logger:  a.logger,
	}, stage.Options{
		VerifyCommand:  v.Command,
		VerifyParser:   v.Parser,
		InstallCommand: v.InstallCommand,
		Checks:         a.cfg.CheckConfigs(),
		SourceRoots:    a.cfg.Selection.SourceRoots,
		MaxCandidates:  a.cfg.Selection.MaxCandidates,
		TemplatesDir:   a.cfg.Oracle.TemplatesDir,
	})
}

// snapshotter persists the ticket to the run store and, when available, the audit database.
type snapshotter struct {
	ctx   context.Context
	store *runstore.Store
	audit *db.DB
}

func (s *snapshotter) Snapshot(t *ticket.Ticket) error {
	if err := s.store.Snapshot(t); err != nil {
		return err
	}
	if s.audit == nil {
		return nil
	}
	return s.audit.SaveRun(s.ctx, t)
}
