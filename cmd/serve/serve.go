package serve

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sig-0/fxsnap/cmd/env"
	"github.com/sig-0/fxsnap/config"
)

// serveCfg wraps the serve configuration
type serveCfg struct {
	configPath    string
	listenAddress string
	providerName  string
}

// NewServeCmd creates the serve subcommand
func NewServeCmd() *ffcli.Command {
	cfg := &serveCfg{}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg.registerFlags(fs)

	cmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "serve <subcommand> [flags]",
		LongHelp:   "Serves the fxsnap backend",
		FlagSet:    fs,
		Exec: func(_ context.Context, _ []string) error {
			return flag.ErrHelp
		},
		Options: []ff.Option{
			// Allow using ENV variables
			ff.WithEnvVars(),
			ff.WithEnvVarPrefix(env.Prefix),
		},
	}

	cmd.Subcommands = []*ffcli.Command{
		newServeSQLCmd(cfg),
		newServeBadgerCmd(cfg),
		newServeMemoryCmd(cfg),
	}

	return cmd
}

func (c *serveCfg) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(
		&c.listenAddress,
		"listen",
		"",
		fmt.Sprintf("the IP:PORT URL for the server (default %s)", config.DefaultListenAddress),
	)

	fs.StringVar(
		&c.configPath,
		"config",
		"",
		"the path to the TOML configuration, if any",
	)

	fs.StringVar(
		&c.providerName,
		"provider",
		"",
		"the rate provider (openexchangerates, bcv), overrides the configuration",
	)
}

// loadConfig reads the configuration file, if any, and applies the flag overrides
func (c *serveCfg) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if c.configPath != "" {
		fileCfg, err := config.Read(c.configPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read config, %w", err)
		}

		cfg = fileCfg
	}

	if c.listenAddress != "" {
		cfg.ListenAddress = c.listenAddress
	}

	if c.providerName != "" {
		cfg.Sync.Provider = c.providerName
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration, %w", err)
	}

	return cfg, nil
}
