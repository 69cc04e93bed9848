// butler-auth gerencia a sessão do Butler pelo terminal: abre o login no
// navegador, mostra o usuário atual e acompanha mudanças de sessão.
//
// Usage:
//
//	butler-auth [flags] login|logout|whoami|watch|serve
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"butler/internal/auth"
	"butler/internal/config"
	"butler/internal/gateway"
	"butler/internal/reactive"
	"butler/internal/services"

	"github.com/pkg/browser"
	"github.com/spf13/pflag"
)

const usage = `butler-auth manages the Butler session from the terminal.

Usage: butler-auth [flags] <command>

Commands:
  login    open the browser login and wait for it to complete
  logout   forget the current user
  whoami   print the current user as JSON
  watch    print the session every time it changes
  serve    expose the session on a local WebSocket gateway

Flags:
`

// options reúne o que vem da linha de comando
type options struct {
	command  string
	apiURL   string
	store    string
	dbPath   string
	addr     string
	noBrowse bool
	verbose  bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	opts, flagSet, err := parseArguments(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if opts.command == "" {
		printHelp(flagSet)
		return nil
	}
	if !opts.verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := services.Build(ctx, cfg, opener(opts.noBrowse))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := svcs.Close(closeCtx); err != nil {
			log.Printf("[CLI] Error closing services: %v", err)
		}
	}()

	select {
	case <-svcs.Auth.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	switch opts.command {
	case "login":
		return runLogin(ctx, svcs, stdout)
	case "logout":
		if err := svcs.Auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "logged out")
		return nil
	case "whoami":
		return printUser(stdout, svcs.Auth.CurrentUser())
	case "watch":
		return runWatch(ctx, svcs.Auth.User(), stdout)
	case "serve":
		return runServe(ctx, svcs.Auth, opts.addr, stdout)
	}
	return fmt.Errorf("unknown command %q", opts.command)
}

func parseArguments(args []string) (options, *pflag.FlagSet, error) {
	var opts options

	flagSet := pflag.NewFlagSet("butler-auth", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.apiURL, "api-url", "", "cloud API base URL (default $BUTLER_API_URL)")
	flagSet.StringVar(&opts.store, "store", "", "user store backend: keyring, sqlite or memory")
	flagSet.StringVar(&opts.dbPath, "db", "", "SQLite file used by --store=sqlite")
	flagSet.StringVar(&opts.addr, "addr", "", "gateway listen address for serve")
	flagSet.BoolVar(&opts.noBrowse, "no-browser", false, "print the login URL instead of opening it")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "write service logs to stderr")

	if err := flagSet.Parse(args); err != nil {
		return options{}, flagSet, err
	}

	rest := flagSet.Args()
	switch len(rest) {
	case 0:
	case 1:
		opts.command = rest[0]
	default:
		return options{}, flagSet, fmt.Errorf("unexpected argument: %s", rest[1])
	}

	switch opts.command {
	case "", "login", "logout", "whoami", "watch", "serve":
	default:
		return options{}, flagSet, fmt.Errorf("unknown command %q", opts.command)
	}
	return opts, flagSet, nil
}

// apply sobrescreve o ambiente com as flags informadas
func (o options) apply(cfg *config.Config) {
	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.addr != "" {
		cfg.GatewayAddr = o.addr
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, usage)
	fmt.Fprint(os.Stderr, flagSet.FlagUsages())
}

// opener abre a URL de login no navegador padrão ou só a imprime
func opener(printOnly bool) auth.URLOpener {
	return func(_ context.Context, url string) error {
		fmt.Fprintf(os.Stderr, "Complete the login in your browser:\n  %s\n", url)
		if printOnly {
			return nil
		}
		browser.Stdout = os.Stderr
		return browser.OpenURL(url)
	}
}

func runLogin(ctx context.Context, svcs *services.Services, stdout io.Writer) error {
	user, err := svcs.Auth.Login(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("login timed out")
	}
	svcs.Analytics.Capture("login_completed", map[string]interface{}{"source": "cli"})
	return printUser(stdout, user)
}

func runWatch(ctx context.Context, users reactive.Observable[*auth.User], stdout io.Writer) error {
	for user := range reactive.Watch(ctx, users) {
		if err := printUser(stdout, user); err != nil {
			return err
		}
	}
	return nil
}

func runServe(ctx context.Context, source gateway.SessionSource, addr string, stdout io.Writer) error {
	server := gateway.NewServer(source)
	actual, err := server.Start(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "serving session on ws://%s/ws/session\n", actual)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// printUser escreve o usuário sem credenciais; null quando anônimo
func printUser(w io.Writer, user *auth.User) error {
	encoder := json.NewEncoder(w)
	return encoder.Encode(user.PublicView())
}
