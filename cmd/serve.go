// Copyright 2025 The fastgo Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dicklesworthstone/fastgo/app"
	"github.com/dicklesworthstone/fastgo/confengine"
	"github.com/dicklesworthstone/fastgo/extract"
	"github.com/dicklesworthstone/fastgo/h1"
	"github.com/dicklesworthstone/fastgo/h2"
	"github.com/dicklesworthstone/fastgo/internal/sigs"
	"github.com/dicklesworthstone/fastgo/logger"
	"github.com/dicklesworthstone/fastgo/metrics"
	"github.com/dicklesworthstone/fastgo/reqctx"
	"github.com/dicklesworthstone/fastgo/server"
)

// configPath is shared by every subcommand that loads a confengine file.
var configPath string

// serveConfig is the "fastgo" section of the config file: listen address,
// body size default, and graceful-shutdown grace budget, per SPEC_FULL.md
// §A's "confengine.Config ... is the config surface for AppConfig."
// H1/H2 tuning lives in their own top-level sections (h1.Limits/h2.Settings
// unpack directly via confengine struct tags).
type serveConfig struct {
	Address     string        `config:"address"`
	BodyLimit   int64         `config:"bodyLimit"`
	GraceBudget time.Duration `config:"graceBudget"`
}

var defaultServeConfig = serveConfig{
	Address:     ":8080",
	BodyLimit:   10 << 20,
	GraceBudget: server.DefaultGraceBudget,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fastgo HTTP/1.1+HTTP/2 application server",
	Run: func(cmd *cobra.Command, args []string) {
		metrics.MustRegister(prometheus.DefaultRegisterer)

		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		logOpts := logger.Options{Stdout: true, Level: "info"}
		if err := cfg.UnpackChild("logger", &logOpts); err != nil && cfg.Has("logger") {
			fmt.Fprintf(os.Stderr, "failed to parse logger config: %v\n", err)
			os.Exit(1)
		}
		logger.SetOptions(logOpts)

		fc := defaultServeConfig
		if err := cfg.UnpackChild("fastgo", &fc); err != nil && cfg.Has("fastgo") {
			fmt.Fprintf(os.Stderr, "failed to parse fastgo config: %v\n", err)
			os.Exit(1)
		}

		h1Limits := h1.DefaultLimits
		if err := cfg.UnpackChild("h1", &h1Limits); err != nil && cfg.Has("h1") {
			fmt.Fprintf(os.Stderr, "failed to parse h1 config: %v\n", err)
			os.Exit(1)
		}

		h2Settings := h2.DefaultSettings
		if err := cfg.UnpackChild("h2", &h2Settings); err != nil && cfg.Has("h2") {
			fmt.Fprintf(os.Stderr, "failed to parse h2 config: %v\n", err)
			os.Exit(1)
		}

		a := app.New()
		a.SetBodyLimit(fc.BodyLimit)
		registerDefaultRoutes(a)
		pipelineCfg := a.Build()

		eng := server.NewEngine(pipelineCfg,
			server.WithH1Limits(h1Limits),
			server.WithH2Settings(h2Settings),
			server.WithGraceBudget(fc.GraceBudget),
		)

		l, err := net.Listen("tcp", fc.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to listen on %s: %v\n", fc.Address, err)
			os.Exit(1)
		}

		admin, err := server.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin server: %v\n", err)
			os.Exit(1)
		}
		if admin != nil {
			admin.SetEngine(eng)
			go func() {
				if err := admin.ListenAndServe(); err != nil {
					logger.Errorf("admin server stopped: %v", err)
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Infof("fastgo serving on %s", fc.Address)
			errCh <- eng.Serve(l)
		}()

		select {
		case <-sigs.Terminate():
			logger.Infof("shutdown signal received, draining with grace budget %s", fc.GraceBudget)
			ctx, cancel := context.WithTimeout(context.Background(), fc.GraceBudget)
			defer cancel()
			if err := eng.Shutdown(ctx); err != nil {
				logger.Errorf("graceful shutdown error: %v", err)
			}
		case err := <-errCh:
			if err != nil {
				fmt.Fprintf(os.Stderr, "server error: %v\n", err)
				os.Exit(1)
			}
		}
	},
	Example: "# fastgo serve --config fastgo.yaml",
}

// registerDefaultRoutes wires the bare health-check route the bundled
// binary serves out of the box; real deployments link the fastgo module
// as a library and call app.New themselves instead of running this
// binary, the same way the teacher's own cmd is only a reference driver
// around its library packages.
func registerDefaultRoutes(a *app.App) {
	a.Get("/healthz", func(ctx *reqctx.Context, src *extract.Source) (any, error) {
		return "ok", nil
	})
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "fastgo.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
}
