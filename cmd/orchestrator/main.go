/*
Copyright 2025 LightCI Authors.

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

// Command orchestrator is the LightCI daemon: it wires the Persistence
// Gateway, Scheduler, Webhook Adapter, and Pipeline Runner together and
// serves webhook deliveries over HTTP, per spec.md §4.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightci/lightci/internal/config"
	"github.com/lightci/lightci/internal/daemon"
	"github.com/lightci/lightci/internal/logging"
	"github.com/lightci/lightci/internal/scheduler"
	"github.com/lightci/lightci/internal/store"
	"github.com/lightci/lightci/internal/webhook"
)

func main() {
	var (
		configPath string
		port       int
	)
	flag.StringVar(&configPath, "config", "", "Path to the lightci config file (leave empty to search ./ and /etc/lightci/)")
	flag.IntVar(&port, "port", 8080, "Port to listen on for webhook requests")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: init logging: %v\n", err)
		os.Exit(1)
	}
	setupLog := log.WithName("setup")

	ctx := context.Background()

	gw, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		setupLog.Error(err, "failed to open persistence gateway")
		os.Exit(1)
	}
	defer gw.Close()

	stack, err := daemon.Build(gw, cfg)
	if err != nil {
		setupLog.Error(err, "failed to wire runner stack")
		os.Exit(1)
	}

	sched := scheduler.New(gw, stack.Runner)
	if err := sched.Start(ctx); err != nil {
		setupLog.Error(err, "failed to start scheduler")
		os.Exit(1)
	}

	adapter := webhook.New(gw, stack.Runner)
	githubHandler := webhook.NewGitHubHandler(adapter)
	gitlabHandler := webhook.NewGitLabHandler(adapter)
	bitbucketHandler := webhook.NewBitbucketHandler(adapter)

	mux := http.NewServeMux()
	mux.Handle("/webhooks/github", githubHandler)
	mux.Handle("/webhooks/gitlab", gitlabHandler)
	mux.Handle("/webhooks/bitbucket", bitbucketHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/ready", handleReady)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      loggingMiddleware(log, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		setupLog.Info("orchestrator listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			setupLog.Error(err, "HTTP server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	setupLog.Info("shutting down orchestrator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "server forced to shutdown")
	}

	setupLog.Info("orchestrator stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func loggingMiddleware(base interface {
	Info(msg string, kv ...interface{})
}, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		base.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
