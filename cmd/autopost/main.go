package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"autopost/internal/app"
)

func main() {
	var (
		cfgPath string
		runOnce string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&runOnce, "run", "", "run one job and exit: 'schedule' or 'post'")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// One-shot mode for cron / serverless invocations.
	if runOnce != "" {
		err := runJob(ctx, a, runOnce)
		_ = a.Stop(context.Background())
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

func runJob(ctx context.Context, a *app.App, job string) error {
	switch job {
	case "schedule":
		res, err := a.RunSchedulerOnce(ctx)
		if err != nil {
			return err
		}
		if res.NoContent {
			fmt.Println(res.Message)
			return nil
		}
		fmt.Printf("scheduled %d slot(s) across %d day(s)\n", res.Scheduled, len(res.Days))
		for _, derr := range res.Errors {
			fmt.Println("warning:", derr)
		}
		return nil
	case "post":
		res, err := a.RunPosterOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("outcome: %s", res.Outcome)
		if res.SlotID != 0 {
			fmt.Printf(" (slot %d)", res.SlotID)
		}
		fmt.Println()
		return nil
	default:
		return fmt.Errorf("unknown job %q (want 'schedule' or 'post')", job)
	}
}
