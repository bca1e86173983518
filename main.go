package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daniellavrushin/b4sni/cli"
	"github.com/daniellavrushin/b4sni/config"
	"github.com/daniellavrushin/b4sni/iptables"
	"github.com/daniellavrushin/b4sni/logx"
	"github.com/daniellavrushin/b4sni/match"
	"github.com/daniellavrushin/b4sni/monitor"
	"github.com/daniellavrushin/b4sni/processor"
	"github.com/daniellavrushin/b4sni/queue"
)

func main() {
	cfg := config.DefaultConfig
	root := cli.NewRootCmd(&cfg, cli.Handlers{Run: runQueue, Monitor: runMonitor})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runQueue(cmd *cobra.Command, cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("log init failed: %w", err)
	}
	defer logx.Flush()

	logx.Infof("starting b4sni: queues from %d, threads=%d, gso=%v, conntrack=%v, rules=%d",
		cfg.QueueStartNum, cfg.Threads, cfg.UseGSO, cfg.UseConntrack, len(cfg.Rules))

	rs := processor.NewRuleset(cfg.Rules, match.Registrations(cfg.UseIPv6))
	cb := processor.New(cfg, rs)

	workers := make([]*queue.Worker, 0, cfg.Threads)
	closeWorkers := func() {
		for _, w := range workers {
			w.Close()
		}
	}
	for i := 0; i < cfg.Threads; i++ {
		id := uint16(cfg.QueueStartNum + uint(i))
		w, err := queue.NewWorker(queue.Config{
			ID:            id,
			Families:      cfg.Families(),
			WithGSO:       cfg.UseGSO,
			WithConntrack: cfg.UseConntrack,
			FailOpen:      true,
			VerdictMark:   uint32(cfg.Mark),
		}, cb)
		if err != nil {
			closeWorkers()
			return fmt.Errorf("worker %d init failed: %w", id, err)
		}
		workers = append(workers, w)
		go w.Run()
		logx.Tracef("worker %d started", id)
	}

	// queues are bound before traffic is steered to them
	if err := iptables.AddRules(cfg); err != nil {
		_ = iptables.ClearRules(cfg)
		closeWorkers()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if !cfg.Instaflush {
		go flushEvery(ctx, time.Second)
	}
	<-ctx.Done()

	logx.Infof("shutting down...")
	if err := iptables.ClearRules(cfg); err != nil {
		logx.Errorf("iptables cleanup: %v", err)
	}
	closeWorkers()
	logx.Infof("bye")
	return nil
}

func runMonitor(cmd *cobra.Command, cfg *config.Config, ifaces []string) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("log init failed: %w", err)
	}
	defer logx.Flush()

	rs := processor.NewRuleset(cfg.Rules, match.Registrations(cfg.UseIPv6))
	s, err := monitor.Open(ifaces, rs)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if !cfg.Instaflush {
		go flushEvery(ctx, time.Second)
	}

	logx.Infof("monitoring %v with %d rule(s)", ifaces, len(cfg.Rules))
	for ev := range s.Run(ctx) {
		logx.Infof("%s", ev)
	}
	return nil
}

func flushEvery(ctx context.Context, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logx.Flush()
		}
	}
}

func initLogging(cfg *config.Config) error {
	var lvl logx.Level
	switch cfg.Verbose {
	case config.VerboseTrace:
		lvl = logx.LevelTrace
	case config.VerboseDebug:
		lvl = logx.LevelDebug
	case config.VerboseInfo:
		lvl = logx.LevelInfo
	default:
		lvl = logx.LevelError
	}
	logx.Init(os.Stderr, lvl, cfg.Instaflush)
	if cfg.Syslog {
		if err := logx.EnableSyslog("b4sni"); err != nil {
			// keep stderr logger and report the failure
			logx.Errorf("syslog enable failed: %v", err)
		}
	}
	return nil
}
