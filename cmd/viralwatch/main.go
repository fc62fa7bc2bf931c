package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"viralwatch/internal/app"
)

const usage = `usage: viralwatch <command> [flags]

commands:
  run     continuous monitoring loop (stops on SIGINT/SIGTERM)
  once    execute a single monitoring cycle and exit
  status  print stored totals and per-account health
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "path to config file (yaml or json)")
	_ = fs.Parse(os.Args[2:])

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "run":
		os.Exit(cmdRun(ctx, *cfgPath))
	case "once":
		os.Exit(cmdOnce(ctx, *cfgPath))
	case "status":
		os.Exit(cmdStatus(ctx, *cfgPath))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func cmdRun(ctx context.Context, cfgPath string) int {
	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Close()
		return 1
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	fatal := a.Err()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx)

	if fatal != nil {
		fmt.Fprintln(os.Stderr, "fatal:", fatal)
		return 1
	}
	return 0
}

func cmdOnce(ctx context.Context, cfgPath string) int {
	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	defer a.Close()

	res, err := a.RunOnce(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cycle failed:", err)
		return 1
	}
	fmt.Printf("cycle completed: due=%d succeeded=%d failed=%d alerts_queued=%d elapsed=%s\n",
		res.Due, res.Succeeded, res.Failed, res.AlertsQueued, res.Elapsed)
	return 0
}

func cmdStatus(ctx context.Context, cfgPath string) int {
	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 2
	}
	defer a.Close()

	healthy, err := a.Status(ctx, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status failed:", err)
		return 2
	}
	if !healthy {
		return 1
	}
	return 0
}
