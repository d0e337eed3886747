// Command ktransport is the terminal client for the transport account API.
// It keeps the session in a local store so later invocations stay signed in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: ktransport <command> [flags]

commands:
  login                     sign in (demo accounts work offline)
  register                  create an account
  whoami                    show the signed-in user
  bootstrap                 show the screen the app would open on
  token                     print the current access token
  refresh                   exchange the refresh token
  logout                    sign out and clear the local session
  send-phone-verification   request a phone verification code
  verify-phone              confirm a phone verification code
  send-email-verification   request an email verification code
  verify-email              confirm an email verification code
  remind                    schedule pickup and arrival reminders
  health                    probe the backend gRPC health service
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	app, err := newApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ktransport: %v\n", err)
		return 1
	}
	defer app.Close()
	app.out = stdout

	if err := cmd(ctx, app, args[1:]); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			if !errors.Is(err, flag.ErrHelp) {
				fmt.Fprintf(stderr, "ktransport: %v\n", err)
			}
			usageErr.printUsage(stderr)
			return 2
		}
		fmt.Fprintf(stderr, "ktransport: %v\n", err)
		return 1
	}
	return 0
}
