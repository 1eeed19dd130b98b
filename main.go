package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/data"
	"github.com/xperimental/upstream-watch/internal/gitrepo"
	"github.com/xperimental/upstream-watch/internal/notify"
	"github.com/xperimental/upstream-watch/internal/process"
	"github.com/xperimental/upstream-watch/internal/resolver"
	"github.com/xperimental/upstream-watch/internal/server"
	"github.com/xperimental/upstream-watch/internal/watcher"
)

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log := &logrus.Logger{
		Out: stderr,
		Formatter: &logrus.TextFormatter{
			DisableTimestamp: true,
		},
		Hooks: logrus.LevelHooks{},
		Level: logrus.InfoLevel,
	}

	var configFile *string
	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(*configFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("error in configuration: %w", err)
		}
		log.SetLevel(cfg.LogLevel)

		return cfg, nil
	}

	daemon := func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return runDaemon(log, cfg)
	}

	rootCmd := &cobra.Command{
		Use:          "upstream-watch",
		Short:        "Watch local git repositories for new upstream commits",
		Long:         "Periodically compares the tracked branches of local git repositories with their remotes and reports new commits.",
		SilenceUsage: true,
		RunE:         daemon,
	}
	configFile = config.AddFlags(rootCmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the repositories until interrupted",
		Long:  "Poll the repositories until interrupted. SIGHUP forgets all reported commits.",
		RunE:  daemon,
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Check all repositories once and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w, err := newWatcher(log, cfg)
			if err != nil {
				return err
			}

			result := w.RunCycle(context.Background())

			encoder := json.NewEncoder(stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(data.NewCycle(result)); err != nil {
				return fmt.Errorf("can not write result: %w", err)
			}

			if len(result.Errors) > 0 {
				return fmt.Errorf("%d of %d repositories failed", len(result.Errors), len(cfg.Watch.Paths))
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, onceCmd)
	rootCmd.SetArgs(args[1:])
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newWatcher(log *logrus.Logger, cfg config.Config) (*watcher.Watcher, error) {
	runner := process.NewRunner(log.WithField("component", "process"), process.Options{
		Timeout: cfg.Git.Timeout,
		SSHHome: cfg.Git.SSHHome,
	})

	var client gitrepo.Client
	switch cfg.Git.Backend {
	case config.BackendGoGit:
		client = gitrepo.NewGoGitClient(cfg.Git.Timeout)
	default:
		client = gitrepo.NewExecClient(log.WithField("component", "git"), runner, cfg.Git.Path)
	}

	res, err := resolver.New(log.WithField("component", "resolver"), runner, client, cfg.Git.SSHCommand)
	if err != nil {
		return nil, fmt.Errorf("error creating resolver: %w", err)
	}

	loader := gitrepo.NewLoader(log.WithField("component", "loader"), client)
	return watcher.New(log.WithField("component", "watcher"), cfg.Watch, loader, res), nil
}

// controller exposes the poll loop to the API and signal handler.
type controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	watcher    *watcher.Watcher
	dispatcher *notify.Dispatcher
}

func (c *controller) Start() {
	c.watcher.Start(c.ctx, c.wg)
}

func (c *controller) Stop() {
	c.watcher.Stop()
}

func (c *controller) Reload() {
	c.dispatcher.Reset()
	c.watcher.Reload()
}

func (c *controller) IsRunning() bool {
	return c.watcher.IsRunning()
}

func runDaemon(log *logrus.Logger, cfg config.Config) error {
	w, err := newWatcher(log, cfg)
	if err != nil {
		return err
	}

	history := notify.NewHistory(cfg.Watch.HistorySize)
	dispatcher := notify.NewDispatcher(log.WithField("component", "notify"), w.Results(), history)

	wg := &sync.WaitGroup{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := &controller{
		ctx:        ctx,
		wg:         wg,
		watcher:    w,
		dispatcher: dispatcher,
	}
	initSignalHandler(log, cancel, ctrl)

	dispatcher.Start(ctx, wg)

	if cfg.Server.ListenAddress != "" {
		srv, err := server.New(log.WithField("component", "server"), cfg.Server, cfg.Watch.Paths, ctrl, history)
		if err != nil {
			return fmt.Errorf("error creating server: %w", err)
		}

		if err := srv.Start(ctx, wg); err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
	}

	ctrl.Start()

	log.Infof("Startup complete.")
	wg.Wait()
	log.Infoln("Shutdown complete.")
	return nil
}

func initSignalHandler(log logrus.FieldLogger, cancel context.CancelFunc, ctrl *controller) {
	stopSignals := []os.Signal{syscall.SIGTERM, syscall.SIGINT}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append(stopSignals, reloadSignals...)...)
	go func() {
		for sig := range sigCh {
			log.Debugf("Got signal: %v", sig)
			if isReloadSignal(sig) {
				ctrl.Reload()
				continue
			}

			cancel()
			signal.Reset(append(stopSignals, reloadSignals...)...)
			return
		}
	}()
}

func isReloadSignal(sig os.Signal) bool {
	for _, s := range reloadSignals {
		if s == sig {
			return true
		}
	}
	return false
}
