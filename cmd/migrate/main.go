// cmd/migrate/main.go
package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"membership-core/internal/common/config"
	"membership-core/internal/common/logger"
)

func main() {
	var (
		dir     = flag.String("dir", "migrations", "migration files directory")
		down    = flag.Bool("down", false, "roll back one migration instead of migrating up")
		version = flag.Bool("version", false, "print current schema version and exit")
	)
	flag.Parse()

	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.Database,
		cfg.Database.Postgres.SSLMode,
	)

	m, err := migrate.New("file://"+*dir, dsn)
	if err != nil {
		zapLog.Fatal("migrate init failed", zap.Error(err))
	}
	defer m.Close()

	if *version {
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			zapLog.Fatal("version lookup failed", zap.Error(err))
		}
		zapLog.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return
	}

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		zapLog.Fatal("migration failed", zap.Error(err))
	}
	zapLog.Info("migrations applied")
}
