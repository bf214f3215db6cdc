package serve

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sig-0/fxsnap/cmd/env"
	"github.com/sig-0/fxsnap/storage/sql"
)

type serveSQLCfg struct {
	rootCfg *serveCfg
}

// newServeSQLCmd creates the serve sql command
func newServeSQLCmd(rootCfg *serveCfg) *ffcli.Command {
	cfg := &serveSQLCfg{
		rootCfg: rootCfg,
	}

	fs := flag.NewFlagSet("sql", flag.ExitOnError)
	cfg.rootCfg.registerFlags(fs)

	return &ffcli.Command{
		Name:       "sql",
		ShortUsage: "serve sql [flags]",
		LongHelp:   "Serves the fxsnap backend, using a Postgres datastore",
		FlagSet:    fs,
		Exec:       cfg.exec,
		Options: []ff.Option{
			// Allow using ENV variables
			ff.WithEnvVars(),
			ff.WithEnvVarPrefix(env.Prefix),
		},
	}
}

// exec executes the server serve command
func (c *serveSQLCfg) exec(ctx context.Context, _ []string) error {
	// Create a new logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load .env
	if err := godotenv.Load(); err != nil {
		logger.Warn("unable to load .env file")
	}

	cfg, err := c.rootCfg.loadConfig()
	if err != nil {
		return err
	}

	// DB
	dsn := os.Getenv(env.Prefix + env.DBURLSuffix)
	if dsn == "" {
		return fmt.Errorf("missing %s", env.Prefix+env.DBURLSuffix)
	}

	db, err := sql.Open(ctx, dsn)
	if err != nil {
		return err
	}

	defer func() {
		if err := db.Close(); err != nil {
			logger.Error(
				"unable to gracefully close DB connection",
				"err", err,
			)
		}
	}()

	logger.Info("DB ping success")

	return run(ctx, cfg, sql.NewStorage(db), logger)
}
