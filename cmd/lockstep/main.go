package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matzehuels/lockstep/internal/cli"
	"github.com/matzehuels/lockstep/pkg/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cli.Execute(ctx)
	if err == nil {
		return
	}
	if code := errors.ExitCode(err); code == 130 {
		os.Exit(code)
	}
	fmt.Fprintln(os.Stderr, "Error:", errors.UserMessage(err))
	if errors.Is(err, errors.ErrCodeInternal) {
		if stack := errors.Stack(err); stack != "" {
			fmt.Fprintln(os.Stderr, stack)
		}
	}
	os.Exit(errors.ExitCode(err))
}
