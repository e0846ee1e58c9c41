package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML config file",
		Sources: cli.EnvVars("ANNOTEXT_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "annotext",
		Usage: "Line-addressed text reader with social annotation",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:      "read",
				Usage:     "Open an edition in the terminal reader",
				ArgsUsage: "[text edition first last]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Aliases: []string{"s"},
						Usage:   "Base URL of the annotext server",
						Value:   "http://localhost:8787",
						Sources: cli.EnvVars("ANNOTEXT_SERVER"),
					},
				},
				Action: read,
			},
			{
				Name:      "import",
				Usage:     "Import an edition and its tags from a YAML file",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{configFlag},
				Action:    importEdition,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func usageError(cmd *cli.Command, format string, args ...any) error {
	return fmt.Errorf("%s: %s", cmd.Name, fmt.Sprintf(format, args...))
}
