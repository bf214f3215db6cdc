package serve

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sig-0/fxsnap/cmd/env"
	"github.com/sig-0/fxsnap/storage/badger"
)

type serveBadgerCfg struct {
	rootCfg *serveCfg

	dataDir string
}

// newServeBadgerCmd creates the serve badger command
func newServeBadgerCmd(rootCfg *serveCfg) *ffcli.Command {
	cfg := &serveBadgerCfg{
		rootCfg: rootCfg,
	}

	fs := flag.NewFlagSet("badger", flag.ExitOnError)
	cfg.rootCfg.registerFlags(fs)

	fs.StringVar(
		&cfg.dataDir,
		"data-dir",
		"fxsnap-data",
		"the BadgerDB directory, an empty value keeps the data in memory",
	)

	return &ffcli.Command{
		Name:       "badger",
		ShortUsage: "serve badger [flags]",
		LongHelp:   "Serves the fxsnap backend, using an embedded BadgerDB datastore",
		FlagSet:    fs,
		Exec:       cfg.exec,
		Options: []ff.Option{
			ff.WithEnvVars(),
			ff.WithEnvVarPrefix(env.Prefix),
		},
	}
}

func (c *serveBadgerCfg) exec(ctx context.Context, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load .env
	if err := godotenv.Load(); err != nil {
		logger.Warn("unable to load .env file")
	}

	cfg, err := c.rootCfg.loadConfig()
	if err != nil {
		return err
	}

	db, err := badger.Open(c.dataDir)
	if err != nil {
		return err
	}

	defer func() {
		if err := db.Close(); err != nil {
			logger.Error(
				"unable to gracefully close BadgerDB",
				"err", err,
			)
		}
	}()

	logger.Info(
		"BadgerDB opened",
		"data_dir", c.dataDir,
	)

	return run(ctx, cfg, badger.NewStorage(db), logger)
}
