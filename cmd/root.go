package cmd

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "docmill",
		Version: version,
		Usage:   "Convert documents to markdown with queued jobs and pipeline fallback",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("DOCMILL_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("DOCMILL_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			convertCmd(),
			formatsCmd(),
		},
	}
}

// applyLogLevel sets the global level from the flag, falling back to the
// configured level.
func applyLogLevel(flagLevel, cfgLevel string) {
	level := flagLevel
	if level == "" {
		level = cfgLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
