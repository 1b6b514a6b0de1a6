package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"innkeep/internal/config"
	"innkeep/internal/db"
	"innkeep/internal/engine"
	"innkeep/internal/lock"
	"innkeep/internal/migrate"
	"innkeep/internal/repo"
)

// Options override what innkeep.yml says; empty fields keep the file's values.
type Options struct {
	Workspace string
	Driver    string
	DSN       string
	Locker    string
	RedisAddr string
	Log       logrus.FieldLogger
	// SkipRebuild leaves the availability index empty, for read-only commands.
	SkipRebuild bool
}

// Runtime is a ready engine plus the resources behind it.
type Runtime struct {
	DB      *sql.DB
	Dialect db.Dialect
	Config  *config.Config
	Engine  engine.Engine
	closers []func() error
}

func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoadConfig reads the workspace config and applies overrides.
func LoadConfig(opts Options) (*config.Config, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Storage.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Storage.DSN = opts.DSN
	}
	if opts.Locker != "" {
		cfg.Engine.Locker = opts.Locker
	}
	if opts.RedisAddr != "" {
		cfg.Engine.RedisAddr = opts.RedisAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open loads config, opens and migrates storage, builds the engine and
// rebuilds the availability index from storage.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: db.Dialect(cfg.Storage.Driver), DSN: cfg.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt := &Runtime{DB: conn, Dialect: dialect, Config: cfg, closers: []func() error{conn.Close}}
	if err := migrate.Migrate(conn, dialect); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng, err := engine.New(repo.New(conn, dialect), cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	eng.Log = log
	if cfg.Engine.Locker == "redis" {
		rl := lock.NewRedisLocker(cfg.Engine.RedisAddr)
		rl.TTL = 2*cfg.Engine.OperationTimeout + cfg.Engine.LockTimeout
		if err := rl.Ping(ctx); err != nil {
			rl.Close()
			rt.Close()
			return nil, fmt.Errorf("redis locker %s: %w", cfg.Engine.RedisAddr, err)
		}
		rt.closers = append(rt.closers, rl.Close)
		eng.Locks = rl
		eng.ReadThrough = true
	}
	rt.Engine = eng
	if !opts.SkipRebuild {
		if _, err := eng.RebuildAll(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("rebuild availability index: %w", err)
		}
	}
	log.WithFields(logrus.Fields{"driver": dialect, "locker": cfg.Engine.Locker}).Debug("engine ready")
	return rt, nil
}
