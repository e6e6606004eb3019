/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 *
 */

// Command netwatchd is the continuously-running network discovery and
// vulnerability assessment appliance (§1). It wires the Config loader,
// Storage Layer, Scan Pipeline, Supervisor, and DHCP Capture Trigger
// together, following bg/ap.watchd/watchd.go's "build everything, then
// block on a signal" main() shape, but with spf13/cobra for flag
// parsing (grounded on Wakiki93-recon-pipeline/cmd/reconpipe/root.go)
// rather than the teacher's bare "flag" package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"netwatch/ap_common/aputil"
	"netwatch/internal/config"
	"netwatch/internal/dhcpsniff"
	"netwatch/internal/pipeline"
	"netwatch/internal/probe"
	"netwatch/internal/storage"
	"netwatch/internal/supervisor"
)

var (
	cfgFile string
	workDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "netwatchd",
	Short: "Continuous network discovery and vulnerability assessment",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "netwatch.toml", "config file path")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", ".", "directory for the sqlite database and work files")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "accepted but has no effect; probe progress is not logged")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func targetsFromConfig(cfg *config.Config) []pipeline.Target {
	targets := make([]pipeline.Target, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		pt := pipeline.Target{
			CIDR:         t.CIDR(),
			Network:      t.CIDR(),
			Extended:     t.Extended,
			VersionCheck: t.VersionCheck,
			ScriptArgs:   cfg.ScriptArgs,
		}
		if t.Windows.Domain != "" || t.Windows.DomainUser != "" {
			pt.Windows = &probe.SMBCreds{
				User:      t.Windows.DomainUser,
				Password:  t.Windows.Password,
				Workgroup: t.Windows.Domain,
			}
		}
		targets = append(targets, pt)
	}
	return targets
}

func run(cmd *cobra.Command, args []string) error {
	log := aputil.NewLogger("netwatchd")
	defer log.Sync()

	workDir = aputil.ExpandDirPath(workDir)
	if !aputil.FileExists(workDir) {
		if err := os.Mkdir(workDir, 0755); err != nil {
			return fmt.Errorf("creating work dir %s: %w", workDir, err)
		}
	}

	for {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		store, err := storage.Open("netwatchd", cfg.SQLite.File, cfg.SQLite.URL)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}

		audited := log.Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, storage.NewAuditCore(store, zapcore.ErrorLevel))
		})).Sugar()

		p := pipeline.New(store, targetsFromConfig(cfg), cfg.NumThreads, audited)
		listen := fmt.Sprintf("%s:%d", cfg.Listen.IP, cfg.Listen.Port)
		sv := supervisor.New(p, time.Duration(cfg.Repeat)*time.Hour, listen, audited)

		ctx, cancel := context.WithCancel(context.Background())

		watcher, err := config.NewWatcher(cfgFile, func(*config.Config) {
			log.Infow("config changed, requesting graceful restart")
			_ = sv.RequestRestart(ctx)
		})
		if err != nil {
			log.Warnw("config watcher unavailable", "error", err)
		} else {
			go watcher.Run()
		}

		if cfg.Device != "" {
			trigger := dhcpsniff.New(cfg.Device, func(ip string) error {
				return p.RunDHCPTriggered(ctx, ip)
			}, audited)
			go func() {
				if err := trigger.Run(ctx); err != nil {
					log.Warnw("dhcp capture trigger exited", "error", err)
				}
			}()
		}

		go sv.RunTimer(ctx)
		sv.TriggerScan(ctx)

		go waitForSignal(cancel)

		err = sv.ListenAndServe(ctx)
		if watcher != nil {
			watcher.Close()
		}
		stopped := sv.Stopped()
		cancel()
		store.Close()

		if err != nil {
			return err
		}
		if !stopped {
			return nil
		}
		log.Infow("restarting after config change")
	}
}

func waitForSignal(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}
