package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/semmidev/vigil/internal/app"
	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/console"
	"github.com/semmidev/vigil/internal/domain"
)

const forcedExitCode = 130

type options struct {
	configPath string
	follow     bool
	noColor    bool
	once       bool
	runJob     string
	check      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "configs/config.yaml", "path to config file")
	flag.BoolVar(&opts.follow, "follow", false, "print the live event stream to stdout")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable colors in the event stream")
	flag.BoolVar(&opts.once, "once", false, "run every job once and exit")
	flag.StringVar(&opts.runJob, "run", "", "run a single job once and exit")
	flag.BoolVar(&opts.check, "check", false, "test the database connections and exit")
	flag.Parse()

	if err := run(opts); err != nil {
		if errors.Is(err, domain.ErrForceStopped) {
			log.Printf("Forced shutdown")
			os.Exit(forcedExitCode)
		}
		log.Fatalf("Error: %v\n", err)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.check {
		results := application.Check(ctx)
		for _, r := range results {
			status := "ok"
			if r.Err != nil {
				status = r.Err.Error()
			}
			fmt.Printf("%-8s %-20s %s\n", r.Kind, r.Target, status)
		}
		if failed := app.FailedChecks(results); failed != "" {
			return fmt.Errorf("connection test failed: %s", failed)
		}
		return nil
	}

	application.Coordinator().Watch(ctx, os.Interrupt, syscall.SIGTERM)

	if opts.follow {
		sub := application.Events().Subscribe()
		followDone := make(chan struct{})
		go func() {
			defer close(followDone)
			if err := console.Follow(ctx, sub, os.Stdout, !opts.noColor); err != nil {
				log.Printf("event stream: %v", err)
			}
		}()
		// The broadcaster closes on shutdown which ends Follow after the
		// last event is printed.
		defer func() {
			application.Events().Close()
			<-followDone
		}()
	}

	switch {
	case opts.once:
		return runOnce(ctx, application)
	case opts.runJob != "":
		return runJob(ctx, application, opts.runJob)
	}
	return application.Run(ctx)
}

func runOnce(ctx context.Context, application *app.App) error {
	runs, err := application.RunOnce(ctx)
	if errors.Is(err, domain.ErrForceStopped) {
		return err
	}
	fmt.Println(console.RenderRuns(runs))
	fmt.Print(console.RenderSnapshot(application.Store().Snapshot()))
	return err
}

func runJob(ctx context.Context, application *app.App, name string) error {
	r, err := application.RunJob(ctx, name)
	if err != nil {
		return err
	}
	fmt.Println(console.RenderRuns([]domain.JobRun{r}))
	return nil
}
