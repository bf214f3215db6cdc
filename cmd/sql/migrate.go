package sql

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sig-0/fxsnap/cmd/env"
	dbpkg "github.com/sig-0/fxsnap/storage/sql"
)

// migrateCfg wraps the migrate configuration
type migrateCfg struct {
	rootCfg *sqlCfg
}

// newMigrateCmd creates the migrate command
func newMigrateCmd(rootCfg *sqlCfg) *ffcli.Command {
	cfg := &migrateCfg{
		rootCfg: rootCfg,
	}

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	rootCfg.RegisterFlags(fs)

	return &ffcli.Command{
		Name:       "migrate",
		ShortUsage: "sql migrate [migration.sql, migration2.sql ...]",
		LongHelp:   "Runs the DB migrations. Runs every bundled migration if none are specified",
		FlagSet:    fs,
		Exec:       cfg.exec,
		Options: []ff.Option{
			// Allow using ENV variables
			ff.WithEnvVars(),
			ff.WithEnvVarPrefix(env.Prefix),
		},
	}
}

func (c *migrateCfg) exec(ctx context.Context, args []string) error {
	// Load .env
	if err := godotenv.Load(); err != nil {
		fmt.Println("Unable to load .env file")
	}

	names := args
	if len(names) == 0 {
		bundled, err := bundledMigrations()
		if err != nil {
			return err
		}

		names = bundled
	}

	dsn := os.Getenv(env.Prefix + env.DBURLSuffix)
	if dsn == "" {
		return fmt.Errorf("missing %s", env.Prefix+env.DBURLSuffix)
	}

	// Open and ping the DB
	db, err := dbpkg.Open(ctx, dsn)
	if err != nil {
		return err
	}

	defer func() {
		if err = db.Close(); err != nil {
			fmt.Printf("Unable to gracefully close DB: %s\n", err.Error())
		}
	}()

	for _, name := range names {
		sqlBytes, err := dbpkg.SchemaFS.ReadFile(fmt.Sprintf("schema/%s", name))
		if err != nil {
			return fmt.Errorf("unable to read migration %q: %w", name, err)
		}

		fmt.Printf("Running migration %s...\n", name)

		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("unable to run migration %q: %w", name, err)
		}

		fmt.Printf("Migration %q complete\n", name)
	}

	fmt.Println("All migrations complete!")

	return nil
}

// bundledMigrations returns the names of the bundled migrations, in order
func bundledMigrations() ([]string, error) {
	entries, err := fs.ReadDir(dbpkg.SchemaFS, "schema")
	if err != nil {
		return nil, fmt.Errorf("unable to list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}
