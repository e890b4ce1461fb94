// Package main provides the treemon CLI entrypoint.
//
// One binary serves both roles. A process started with TREEMON_ROOT in its
// environment becomes a leaf of that root; without it, the process becomes
// the root, optionally spawns a child-launching command, waits for the
// expected number of leaves to join, and serves the HTTP view.
//
// Usage:
//
//	treemon [-n count] [--config treemon.yaml] [command...]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ParaToolsInc/snapped/config"
	"github.com/ParaToolsInc/snapped/launch"
	"github.com/ParaToolsInc/snapped/log"
	"github.com/ParaToolsInc/snapped/metrics"
	"github.com/ParaToolsInc/snapped/notify"
	"github.com/ParaToolsInc/snapped/tbon"
	"github.com/ParaToolsInc/snapped/types"
	"github.com/ParaToolsInc/snapped/web"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "treemon",
		Usage:   "Tree-based overlay network for distributed counter aggregation",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "number",
				Aliases: []string{"n"},
				Usage:   "Number of processes expected to join",
				Value:   1,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a treemon.yaml config file",
			},
		},
		Action:         run,
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		cfg = loaded
	}

	// Presence of the root address in the environment makes us a leaf.
	if os.Getenv(tbon.RootEnv) != "" {
		return beLeaf(cfg)
	}

	return beRoot(c.Int("number"), c.Args().Slice(), cfg)
}

// beRoot assembles the tree and serves the HTTP view forever.
func beRoot(childCount int, command []string, cfg *config.Config) error {
	logger := log.NewLogger("root", log.ParseLevel(cfg.LogLevel))

	node, err := tbon.InitRoot(cfg.Bind, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if len(command) > 0 {
		if _, err := launch.Spawn(command, node.URL()); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	buildStart := time.Now()

	if err := node.WaitForChildren(childCount); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	elapsed := time.Since(buildStart)
	fmt.Printf("Built a tree of %d processes in %g seconds\n",
		childCount, float64(elapsed.Milliseconds())/1000.0)
	fmt.Println("All processes joined root server")

	if cfg.Notify.URL != "" {
		publishTreeBuilt(node, childCount, elapsed, cfg, logger)
	}

	metrics.RegisterNode(node)

	server := web.NewServer(node, logger)
	if err := server.ListenAndServe(cfg.HTTPAddr); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// publishTreeBuilt reports assembly completion to the configured webhook.
// Failures are logged, not fatal: the overlay works without the listener.
func publishTreeBuilt(node *tbon.Tbon, childCount int, elapsed time.Duration, cfg *config.Config, logger *log.Logger) {
	retries := notify.DefaultRetries
	if cfg.Notify.Retries != nil {
		retries = *cfg.Notify.Retries
	}
	hook, err := notify.New(notify.Config{
		URL:     cfg.Notify.URL,
		Headers: cfg.Notify.Headers,
		Timeout: cfg.Notify.Timeout.Duration,
		Retries: retries,
	})
	if err != nil {
		logger.Warn("notify disabled", map[string]any{"error": err.Error()})
		return
	}
	defer func() { _ = hook.Close() }()

	event := notify.NewTreeBuiltEvent(node.URL(), childCount+1, elapsed)
	if err := hook.Publish(context.Background(), event); err != nil {
		logger.Warn("tree-built notification failed", map[string]any{"error": err.Error()})
	}
}

// beLeaf joins the overlay and publishes a demo counter forever.
func beLeaf(cfg *config.Config) error {
	logger := log.NewLogger("leaf", log.ParseLevel(cfg.LogLevel))

	node, err := tbon.InitLeaf(cfg.Bind, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var cnt uint64
	for {
		time.Sleep(cfg.PublishInterval.Duration)
		node.SetCounter("test", cnt)
		cnt = (cnt + 1) % 10
	}
}
