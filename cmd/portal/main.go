package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdin, os.Stdout)
	if msg, code := describe(err); code != exitOK {
		fmt.Fprintln(os.Stderr, msg)
		stop()
		os.Exit(code)
	}
}

// run loads configuration in order .env, environment, flags and executes
// the command
func run(
	ctx context.Context,
	getenv func(string) string,
	getwd func() (string, error),
	args []string,
	stdin io.Reader,
	stdout io.Writer,
) error {
	cfg := NewConfig()

	if err := cfg.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env. Err: %w", err)
	}
	if err := cfg.LoadEnv(getenv); err != nil {
		return fmt.Errorf("error while loading environment. Err: %w", err)
	}

	c := newCLI(cfg, stdin, stdout)
	defer c.stop()

	root := c.rootCmd()
	root.SetArgs(args)

	return root.ExecuteContext(ctx)
}
