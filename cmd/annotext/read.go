package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"annotext/internal/client"
	"annotext/internal/console"
)

func read(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(slog.LevelWarn)
	api, err := client.New(cmd.String("server"), nil, logger)
	if err != nil {
		return err
	}
	term := console.New(api, os.Stdout, logger)

	if args := cmd.Args().Slice(); len(args) > 0 {
		if len(args) != 4 {
			return usageError(cmd, "expected <text> <edition> <first> <last>, got %d arguments", len(args))
		}
		nums := make([]int, 3)
		for i, arg := range args[1:] {
			if nums[i], err = strconv.Atoi(arg); err != nil {
				return usageError(cmd, "%q is not a number", arg)
			}
		}
		if err := term.Open(ctx, args[0], nums[0], nums[1], nums[2]); err != nil {
			return err
		}
		if err := term.Render(os.Stdout); err != nil {
			return err
		}
	}
	return term.Run(ctx, os.Stdin)
}
