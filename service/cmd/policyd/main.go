// cmd/policyd/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/molgraph/checkpoint"
	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
	"github.com/jason-s-yu/molgraph/service/internal/config"
	"github.com/jason-s-yu/molgraph/service/internal/server"
)

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("policyd", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "dotenv file to load before the environment")
	issue := fs.String("issue-token", "", "print a signed token for this subject and exit")
	ttl := fs.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *issue != "" {
		if cfg.JWTSecret == "" {
			return fmt.Errorf("%sJWT_SECRET is not set", config.Prefix)
		}
		tok, err := server.IssueToken(cfg.JWTSecret, *issue, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, tok)
		return nil
	}

	log := cfg.Logger()
	enc, err := molecule.NewEncoder(cfg.AtomTypes, cfg.MaxAtoms, cfg.EdgeTypes)
	if err != nil {
		return err
	}
	ob, ac := enc.Spaces()
	pi, err := policy.Build(cfg.Scope, ob, ac, cfg.Kind, enc.AtomTypeNum(),
		policy.WithSeed(cfg.Seed),
		policy.WithParallelism(cfg.Parallelism),
		policy.WithLogger(log),
	)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"scope":      pi.Scope(),
		"kind":       pi.Kind().String(),
		"slots":      enc.Slots(),
		"atom_types": enc.AtomTypeNum(),
		"parameters": pi.Params().Count(),
	}).Info("policy built")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store checkpoint.Store
	if cfg.CheckpointURL != "" {
		if store, err = checkpoint.OpenStore(ctx, cfg.CheckpointURL); err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer store.Close()
	}

	srv, err := server.New(server.Options{
		Policy:    pi,
		Encoder:   enc,
		Store:     store,
		JWTSecret: cfg.JWTSecret,
		MaxSteps:  cfg.MaxSteps,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if err := srv.RestoreLatest(ctx); err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	if cfg.JWTSecret == "" {
		log.Warn("no JWT secret configured, authentication disabled")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("listening")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
