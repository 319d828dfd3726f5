// credtool inspects and exercises console credentials from the command line.
//
//	credtool inspect TOKEN
//	credtool compact [--budget N] TOKEN
//	credtool decide [--routes FILE] [--unmapped allow|deny] TOKEN PATH...
//	credtool fetch --auth URL --user NAME --password PASS URL
//
// TOKEN may be "-" to read it from stdin.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"consolegate/internal/credential"
	"consolegate/internal/gateway/adapter/authapi"
	"consolegate/internal/permission"
	"consolegate/internal/refresh"
	"consolegate/internal/routes"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: credtool <command> [flags] [args]

commands:
  inspect   decode a token and print its claims
  compact   shrink a token to a cookie budget
  decide    evaluate console routes for a token
  fetch     sign in and GET a URL with automatic renewal
`

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("no command given")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "inspect":
		return inspect(rest, stdin, stdout)
	case "compact":
		return compact(rest, stdin, stdout, stderr)
	case "decide":
		return decide(rest, stdin, stdout, stderr)
	case "fetch":
		return fetch(ctx, rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func readToken(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading token from stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

type inspection struct {
	Subject     string    `json:"subject"`
	Roles       []string  `json:"roles"`
	Departments []string  `json:"departments"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	Expired     bool      `json:"expired"`
	LinkStatus  int       `json:"link_status"`
	Length      int       `json:"length"`
	OverBudget  bool      `json:"over_budget"`
}

func inspect(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("inspect takes exactly one TOKEN")
	}
	tok, err := readToken(args[0], stdin)
	if err != nil {
		return err
	}
	claims, err := credential.DecodeClaims(tok)
	if err != nil {
		return err
	}

	out := inspection{
		Subject:     claims.Subject,
		Roles:       claims.RoleNames(),
		Departments: claims.Departments,
		ExpiresAt:   claims.ExpiresAt.UTC(),
		Expired:     claims.Expired(time.Now()),
		LinkStatus:  claims.LinkStatus,
		Length:      len(tok),
		OverBudget:  len(tok) > credential.DefaultBudget,
	}
	for _, p := range claims.Permissions {
		out.Permissions = append(out.Permissions, p.Name+":"+string(p.Action))
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func compact(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("compact", stderr)
	budget := fs.Int("budget", credential.DefaultBudget, "maximum token length in characters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("compact takes exactly one TOKEN")
	}
	tok, err := readToken(fs.Arg(0), stdin)
	if err != nil {
		return err
	}

	out, strategy := credential.Compact(tok, *budget)
	fmt.Fprintf(stderr, "strategy=%s original=%d compacted=%d\n", strategy, len(tok), len(out))
	fmt.Fprintln(stdout, out)
	return nil
}

func decide(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("decide", stderr)
	tablePath := fs.String("routes", "", "route table YAML (default: embedded table)")
	unmappedFlag := fs.String("unmapped", "allow", "policy for unmapped routes: allow or deny")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("decide takes a TOKEN and at least one PATH")
	}

	unmapped, err := routes.ParseUnmappedPolicy(*unmappedFlag)
	if err != nil {
		return err
	}
	var table *routes.Table
	if *tablePath == "" {
		table, err = routes.Default(unmapped)
	} else {
		table, err = routes.Load(*tablePath, unmapped)
	}
	if err != nil {
		return err
	}

	tok, err := readToken(fs.Arg(0), stdin)
	if err != nil {
		return err
	}
	claims, err := credential.DecodeClaims(tok)
	if err != nil {
		return err
	}

	for _, path := range fs.Args()[1:] {
		allowed, mapped := table.Decide(claims, path)
		line := fmt.Sprintf("%-28s allow", path)
		if !allowed {
			line = fmt.Sprintf("%-28s deny", path)
			if dest, ok := table.FirstAllowed(claims, path); ok {
				line += " -> " + dest
			} else {
				line += " (no permitted destination)"
			}
		}
		if !mapped {
			line += " [unmapped]"
		}
		fmt.Fprintln(stdout, line)
	}

	actions := permission.OrderManagementActions(claims)
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	fmt.Fprintf(stdout, "order management: [%s]\n", strings.Join(names, " "))
	return nil
}

func fetch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("fetch", stderr)
	authURL := fs.String("auth", "http://localhost:8080", "base URL serving /auth/login and /auth/refresh")
	user := fs.String("user", "", "username")
	password := fs.String("password", "", "password")
	timeout := fs.Duration("timeout", 10*time.Second, "per-request timeout")
	verbose := fs.BoolP("verbose", "v", false, "log renewals to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *user == "" {
		return errors.New("fetch needs --user and exactly one URL")
	}
	target := fs.Arg(0)

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	slot, err := credential.NewJarSlot(*authURL)
	if err != nil {
		return err
	}
	store := credential.NewStore(slot, credential.DefaultBudget, logger)

	auth := authapi.NewClient(*authURL, *timeout)
	pair, err := auth.Login(ctx, *user, *password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	store.Set(pair.AccessToken, pair.RefreshToken)

	coordinator := refresh.NewCoordinator(store, auth, refresh.Options{
		Logger: logger,
		OnSessionEnded: func(err error) {
			logger.Warn("session ended, sign in again", "error", err)
		},
	})
	client := &http.Client{
		Transport: refresh.NewTransport(nil, store, coordinator),
		Timeout:   *timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintf(stderr, "%s\n", resp.Status)
	_, err = io.Copy(stdout, resp.Body)
	return err
}
