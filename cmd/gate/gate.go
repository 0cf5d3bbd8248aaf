/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package gate

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcgate/gate/pkg/banner"
	"github.com/mcgate/gate/pkg/config"
	"github.com/mcgate/gate/pkg/engine"
	"github.com/mcgate/gate/pkg/httpapi"
	"github.com/mcgate/gate/pkg/metrics"
	"github.com/mcgate/gate/pkg/proxyproto"
	"github.com/mcgate/gate/pkg/ratelimit"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func Run() (err error) {
	config.SetDefaults(viper.GetViper())
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if err := initLogger(cfg.Debug); err != nil {
		return fmt.Errorf("error initializing global logger: %w", err)
	}

	if err = config.Validate(&cfg); err != nil {
		return fmt.Errorf("error validating config: %w", err)
	}

	mode, err := parseProxyMode(cfg.Listener.ProxyProtocolIn)
	if err != nil {
		return err
	}

	ctx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()

	var globalLimit *ratelimit.Limits
	if l := cfg.Limits; l.SendAvg != 0 || l.SendBurst != 0 || l.RecvAvg != 0 || l.RecvBurst != 0 {
		globalLimit = &ratelimit.Limits{SendAvg: l.SendAvg, SendBurst: l.SendBurst, RecvAvg: l.RecvAvg, RecvBurst: l.RecvBurst}
	}

	eng := engine.New(ctx, engine.Options{
		DecisionTimeout: cfg.DecisionTimeout,
		CacheSweepEvery: cfg.CacheSweepEvery,
		FaviconMaxBytes: cfg.FaviconMaxBytes,
		GlobalRateLimit: globalLimit,
	})

	if _, err := eng.StartListener(cfg.Listener.Host, cfg.Listener.Port, mode); err != nil {
		return fmt.Errorf("error starting listener: %w", err)
	}

	promReg := metrics.NewRegistry(eng.Registry())
	shutdownCh := make(chan struct{}, 1)
	boundary := httpapi.New(eng, promReg, cfg.Boundary.Bind, func() { shutdownCh <- struct{}{} })

	go func() {
		if err := boundary.ListenAndServe(); err != nil {
			zap.S().Errorw("policy boundary server stopped", "err", err)
		}
	}()

	banner.Print(version, fmt.Sprintf("%s:%d", cfg.Listener.Host, cfg.Listener.Port), cfg.Boundary.Bind)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer func() { signal.Stop(sig); close(sig) }()

	select {
	case s := <-sig:
		zap.S().Infof("received %s signal, shutting down", s)
	case <-shutdownCh:
		zap.S().Infow("shutdown requested via policy boundary")
	}

	_ = boundary.Shutdown()
	eng.Shutdown()
	return nil
}

func parseProxyMode(s string) (proxyproto.Mode, error) {
	switch s {
	case "none":
		return proxyproto.ModeNone, nil
	case "optional":
		return proxyproto.ModeOptional, nil
	case "strict":
		return proxyproto.ModeStrict, nil
	default:
		return proxyproto.ModeNone, fmt.Errorf("gate: invalid listener.proxyProtocolIn %q", s)
	}
}

func initLogger(debug bool) (err error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// GATE_LOG_LEVEL, if set, overrides the level chosen by the debug flag.
	if lvl := os.Getenv("GATE_LOG_LEVEL"); lvl != "" {
		if err := cfg.Level.UnmarshalText([]byte(lvl)); err != nil {
			return fmt.Errorf("invalid GATE_LOG_LEVEL %q: %w", lvl, err)
		}
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)
	return nil
}
