// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command crawlvisord loads a deployment descriptor, supervises the apps
// it names, and serves the REST API that the crawlvisor command talks to.
//
// Settings come from flags, CRAWLVISOR_* environment variables, or a
// crawlvisord.{yaml,json,toml} file; see internal/config.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tycoon-systems/crawlvisor"
	"github.com/tycoon-systems/crawlvisor/ecosystem"
	"github.com/tycoon-systems/crawlvisor/internal/config"
	"github.com/tycoon-systems/crawlvisor/internal/logging"
	"github.com/tycoon-systems/crawlvisor/rest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "crawlvisord",
		Short:        "Supervise the apps of a deployment descriptor",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default crawlvisord.yaml in ., /etc/crawlvisor, ~/.crawlvisor)")
	f.StringP("listen", "a", "", "listen address")
	f.StringP("descriptor", "f", "", "deployment descriptor")
	f.StringP("dir", "d", "", "base directory for apps (default: the descriptor's directory)")
	f.StringP("name", "n", "", "manager name")
	f.BoolP("enable", "e", true, "enable all services at startup")
	f.Int("max-conns", 0, "maximum concurrent API connections (0 for no limit)")
	f.Bool("development", false, "human friendly logging")

	bind(v, cmd, config.KeyListen, "listen")
	bind(v, cmd, config.KeyDescriptor, "descriptor")
	bind(v, cmd, config.KeyDir, "dir")
	bind(v, cmd, config.KeyName, "name")
	bind(v, cmd, config.KeyEnable, "enable")
	bind(v, cmd, config.KeyMaxConns, "max-conns")
	bind(v, cmd, config.KeyDevelopment, "development")
	return cmd
}

// bind makes an explicitly set flag override the config file and the
// environment.
func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// descriptorPaths returns the descriptor file and the base directory apps
// are resolved against.
func descriptorPaths(cfg config.Config) (string, string, error) {
	path := cfg.Descriptor
	if !filepath.IsAbs(path) && cfg.Dir != "" {
		path = filepath.Join(cfg.Dir, path)
	}
	base := cfg.Dir
	if base == "" {
		base = filepath.Dir(path)
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return "", "", err
	}
	return path, base, nil
}

// newManager loads the descriptor into a fresh manager.  Path problems
// are logged but do not stop the daemon; the affected services will fail
// and show up as such.
func newManager(cfg config.Config, logger *zap.Logger) (*crawlvisor.Manager, error) {
	path, base, err := descriptorPaths(cfg)
	if err != nil {
		return nil, err
	}
	d, err := ecosystem.Load(path)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		for _, fe := range ecosystem.Errors(err) {
			logger.Error("invalid descriptor", zap.String("field", fe.Field), zap.Error(fe.Err))
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, fe := range ecosystem.Errors(d.CheckPaths(base)) {
		logger.Warn("descriptor path check failed", zap.String("field", fe.Field), zap.Error(fe.Err))
	}

	m := crawlvisor.NewManager(cfg.Name)
	m.SetLogger(logging.StdLog(logger, "manager"))
	if err := m.LoadDescriptor(d, base); err != nil {
		return nil, err
	}
	logger.Info("descriptor loaded",
		zap.String("path", path),
		zap.String("base", base),
		zap.Strings("apps", d.AppNames()))
	return m, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	m.StartMonitoring()
	if cfg.Enable {
		svcs, _, _ := m.Services()
		for _, s := range svcs {
			if err := s.Enable(); err != nil {
				logger.Warn("enable failed", zap.String("service", s.Name()), zap.Error(err))
			}
		}
	}

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		m.Shutdown()
		return err
	}
	srv := rest.NewServer(cfg.Listen, rest.NewHandler(m, logger.Named("rest")))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- rest.Serve(srv, l, cfg.MaxConns)
	}()
	logger.Info("serving", zap.String("listen", l.Addr().String()), zap.Int("max_conns", cfg.MaxConns))

	select {
	case err = <-errc:
		logger.Error("server failed", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if e := srv.Shutdown(sctx); e != nil {
			logger.Warn("server shutdown", zap.Error(e))
		}
		cancel()
	}
	m.Shutdown()
	return err
}
