package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeanpaul/fitcache/internal/config"
)

// buildVersion is set with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	configFlag := flag.String("config", "", "Path to config.yaml")
	helpFlag := flag.Bool("help", false, "Show help")
	flag.BoolVar(helpFlag, "h", false, "Show help")

	flag.Usage = showHelp
	flag.Parse()

	args := flag.Args()
	if *helpFlag || len(args) == 0 {
		showHelp()
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configFlag, args, os.Stdout); err != nil {
		cancel()
		fatal("%s", err)
	}
}

// run executes one command. Commands that touch cached data first run the
// startup migration when it is enabled.
func run(ctx context.Context, configPath string, args []string, out io.Writer) error {
	switch args[0] {
	case "help":
		fmt.Fprint(out, helpText())
		return nil
	case "version":
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		fmt.Fprintf(out, "fitcache %s (app version %s)\n", buildVersion, cfg.AppVersion)
		return nil
	case "doctor":
		return cmdDoctor(ctx, configPath, out)
	}

	a, err := newApp(configPath, out)
	if err != nil {
		return err
	}
	defer a.close()

	if args[0] != "migrate" && a.cfg.Migration.Enabled {
		state := a.orch.Run(ctx)
		a.log.Debug("startup migration finished", "phase", state.Phase, "run_id", state.RunID)
	}

	rest := args[1:]
	switch args[0] {
	case "migrate":
		return a.cmdMigrate(ctx)
	case "sweep":
		return a.cmdSweep(withAccountArg(ctx, rest, 0))
	case "get":
		if len(rest) < 1 {
			return usage("get <key> [account]")
		}
		return a.cmdGet(withAccountArg(ctx, rest, 1), rest[0])
	case "set":
		if len(rest) < 2 {
			return usage("set <key> <json> [account]")
		}
		return a.cmdSet(withAccountArg(ctx, rest, 2), rest[0], rest[1])
	case "rm":
		if len(rest) < 1 {
			return usage("rm <key> [account]")
		}
		return a.cmdRemove(withAccountArg(ctx, rest, 1), rest[0])
	case "keys":
		return a.cmdKeys(ctx)
	case "login":
		if len(rest) < 1 {
			return usage("login <token>")
		}
		return a.cmdLogin(ctx, rest[0])
	case "whoami":
		return a.cmdWhoami(ctx)
	case "logout":
		return a.cmdLogout(withAccountArg(ctx, rest, 0))
	case "snapshot":
		if len(rest) < 1 {
			return usage("snapshot <file> [account]")
		}
		return a.cmdSnapshot(withAccountArg(ctx, rest, 1), rest[0])
	case "restore":
		if len(rest) < 1 {
			return usage("restore <file> [account]")
		}
		return a.cmdRestore(withAccountArg(ctx, rest, 1), rest[0])
	case "diff":
		if len(rest) < 1 {
			return usage("diff <file> [account]")
		}
		return a.cmdDiff(withAccountArg(ctx, rest, 1), rest[0])
	default:
		return fmt.Errorf("unknown command %q (run 'fitcache help')", args[0])
	}
}

func usage(s string) error {
	return fmt.Errorf("usage: fitcache %s", s)
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+msg))
	os.Exit(1)
}

func showHelp() {
	fmt.Print(helpText())
}

func helpText() string {
	return `
` + titleStyle.Render("fitcache") + ` - account-scoped cache maintenance

` + labelStyle.Render("USAGE:") + `
  fitcache [-config path] <command> [args]

` + labelStyle.Render("COMMANDS:") + `
  migrate                       Run the legacy key migration now
  sweep [account]               Validate an account's keys
  get <key> [account]           Print a cached value
  set <key> <json> [account]    Store a cached value
  rm <key> [account]            Remove a cached value
  keys                          List stored keys and their owners
  login <token>                 Store a credential and track its account
  whoami                        Show the tracked account
  logout [account]              Sign out and remove transient data
  snapshot <file> [account]     Write an account's data to a file
  restore <file> [account]      Write a snapshot file back
  diff <file> [account]         Compare a snapshot file with live data
  doctor                        Check the configured store
  version                       Print version information

` + labelStyle.Render("FLAGS:") + `
  -config path                  Config file (default: search ./, ~/.config/fitcache)
  -h, -help                     Show this help

` + dimStyle.Render("  Environment: FITCACHE_STORE_BACKEND, FITCACHE_STORE_PATH, FITCACHE_LOG_LEVEL, ...") + `
`
}
