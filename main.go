package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/shazow/wipi/internal/config"
	"github.com/shazow/wipi/internal/control"
)

var (
	// Version is the version of the application. It is set at build time.
	Version string = "dev"
)

// defaultEnvFile is read for WIPI_* settings unless WIPI_ENV_FILE names another.
const defaultEnvFile = "/etc/default/wipi"

type options struct {
	Daemon      bool
	Install     bool
	Uninstall   bool
	ForceAP     bool
	ForceClient bool
	Reload      bool
	Status      bool
	Watch       bool
	JSON        bool
	QR          bool
	Debug       bool
	Version     bool

	Config      string
	Socket      string
	Interface   string
	Backend     string
	LeasesFile  string
	MetricsAddr string
	Theme       string
}

func newRootCommand(opts *options) *ffcli.Command {
	flags := flag.NewFlagSet("wipi", flag.ContinueOnError)
	flags.BoolVar(&opts.Daemon, "daemon", false, "run the connectivity daemon")
	flags.BoolVar(&opts.Install, "install", false, "install the systemd service")
	flags.BoolVar(&opts.Uninstall, "uninstall", false, "remove the systemd service")
	flags.BoolVar(&opts.ForceAP, "force-ap", false, "switch to access point mode (with --daemon: start pinned to it)")
	flags.BoolVar(&opts.ForceClient, "force-client", false, "clear the override and look for known networks")
	flags.BoolVar(&opts.Reload, "reload", false, "reload the daemon's configuration")
	flags.BoolVar(&opts.Status, "status", false, "print the daemon status")
	flags.BoolVar(&opts.Watch, "watch", false, "show a live status dashboard")
	flags.BoolVar(&opts.JSON, "json", false, "output in JSON format")
	flags.BoolVar(&opts.QR, "qr", false, "print a QR code for joining the access point")
	flags.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	flags.BoolVar(&opts.Version, "version", false, "display version")
	flags.StringVar(&opts.Config, "config", config.DefaultPath, "path to the configuration file")
	flags.StringVar(&opts.Socket, "socket", control.DefaultSocketPath, "path to the control socket")
	flags.StringVar(&opts.Interface, "interface", "wlan0", "wireless interface to manage")
	flags.StringVar(&opts.Backend, "backend", "auto", "wifi backend (auto, networkmanager, iwd)")
	flags.StringVar(&opts.LeasesFile, "leases-file", "", "dnsmasq leases file used to count access point clients")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "127.0.0.1:9477", "address for /metrics, /healthz and /status (empty disables)")
	flags.StringVar(&opts.Theme, "theme", "", "path to theme toml file for --watch")

	return &ffcli.Command{
		Name:       "wipi",
		ShortUsage: "wipi [--daemon | --status | --watch | --force-ap | --force-client | --reload | --install | --uninstall] [flags]",
		ShortHelp:  "Fall back to a WiFi access point when no known network is reachable",
		FlagSet:    flags,
		Options:    []ff.Option{ff.WithEnvVarPrefix("WIPI")},
		Exec: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return usageError("unexpected arguments: %v", args)
			}
			return run(ctx, opts, os.Stdout)
		},
	}
}

// loadEnvFile copies settings from the environment file into the process
// environment without overriding variables that are already set.
func loadEnvFile() error {
	path := os.Getenv("WIPI_ENV_FILE")
	if path == "" {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// main is the entry point of the application
func main() {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "error loading environment file: %v\n", err)
		os.Exit(exitUsage)
	}

	var opts options
	root := newRootCommand(&opts)
	err := root.ParseAndRun(context.Background(), os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(exitOK)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
