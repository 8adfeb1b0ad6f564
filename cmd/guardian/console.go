package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/client"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

const helpText = `commands:
  login <user> <password>   sign in
  logout                    sign out
  status                    print the tab state
  extend                    answer the expiry alert with "stay signed in"
  dismiss                   close the alert without extending
  get <path>                GET an API path through the gateway
  post <path> [json]        POST to an API path through the gateway
  quit                      exit`

// tabConsole is what the console drives; *guardian.Tab satisfies it.
type tabConsole interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Extend(ctx context.Context) error
	Dismiss()
	Request(ctx context.Context, target string, opts client.RequestOptions) (json.RawMessage, error)
	StatusJSON() ([]byte, error)
	OnAlertChange(fn func(models.AlertState)) func()
}

// runConsole reads one command per line until quit, EOF or ctx is done.
func runConsole(ctx context.Context, tab tabConsole, in io.Reader, out io.Writer) {
	cancel := tab.OnAlertChange(func(s models.AlertState) {
		if s.Visible {
			fmt.Fprintf(out, "! session expires in %ds (extend | logout | dismiss)\n", s.SecondsRemaining)
		}
	})
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, helpText)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !execute(ctx, tab, strings.Fields(line), out) {
				return
			}
		}
	}
}

// execute runs one command and reports whether the console should continue.
func execute(ctx context.Context, tab tabConsole, args []string, out io.Writer) bool {
	if len(args) == 0 {
		return true
	}

	switch args[0] {
	case "quit", "exit":
		return false

	case "help":
		fmt.Fprintln(out, helpText)

	case "login":
		if len(args) != 3 {
			fmt.Fprintln(out, "usage: login <user> <password>")
			return true
		}
		report(out, tab.Login(ctx, args[1], args[2]), "logged in")

	case "logout":
		report(out, tab.Logout(ctx), "logged out")

	case "extend":
		report(out, tab.Extend(ctx), "session extended")

	case "dismiss":
		tab.Dismiss()

	case "status":
		data, err := tab.StatusJSON()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return true
		}
		fmt.Fprintln(out, string(data))

	case "get", "post":
		if len(args) < 2 {
			fmt.Fprintf(out, "usage: %s <path>\n", args[0])
			return true
		}
		opts := client.RequestOptions{Method: http.MethodGet}
		if args[0] == "post" {
			opts.Method = http.MethodPost
			if len(args) > 2 {
				opts.Body = json.RawMessage(strings.Join(args[2:], " "))
			}
		}
		raw, err := tab.Request(ctx, args[1], opts)
		switch {
		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
		case raw == nil:
			fmt.Fprintln(out, "(no content)")
		default:
			fmt.Fprintln(out, string(raw))
		}

	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", args[0])
	}
	return true
}

func report(out io.Writer, err error, ok string) {
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, ok)
}
