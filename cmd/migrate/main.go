package main

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/pkg/config"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	logr.Info("connecting for migrations",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.String("source", cfg.Migrations.Path),
	)

	m, err := migrate.New(cfg.Migrations.Path, databaseURL(cfg.Database))
	if err != nil {
		logr.Fatal("failed to initialise migrations", zap.Error(err))
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logr.Warn("failed to close migration resources", zap.NamedError("source", sourceErr), zap.NamedError("database", dbErr))
		}
	}()

	switch os.Args[1] {
	case "up":
		report(logr, m.Up(), "migrations applied")
	case "down":
		report(logr, m.Steps(-1), "last migration rolled back")
	case "goto":
		if len(os.Args) < 3 {
			logr.Fatal("goto requires a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			logr.Fatal("invalid version number", zap.String("version", os.Args[2]), zap.Error(err))
		}
		report(logr, m.Migrate(uint(version)), fmt.Sprintf("migrated to version %d", version))
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logr.Info("no migrations applied yet")
			return
		}
		if err != nil {
			logr.Fatal("failed to read migration version", zap.Error(err))
		}
		logr.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	default:
		printUsage()
		os.Exit(1)
	}
}

func report(logr *zap.Logger, err error, success string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logr.Info("no change, database already up to date")
	case err != nil:
		logr.Fatal("migration failed", zap.Error(err))
	default:
		logr.Info(success)
	}
}

func databaseURL(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     cfg.Name,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

func printUsage() {
	fmt.Println("usage: migrate <command>")
	fmt.Println("commands:")
	fmt.Println("  up         apply every pending migration")
	fmt.Println("  down       roll back the last migration")
	fmt.Println("  goto N     migrate to version N")
	fmt.Println("  version    print the current version")
}
