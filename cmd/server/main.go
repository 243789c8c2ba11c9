package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/davidsunday2/careersim/internal/auth"
	"github.com/davidsunday2/careersim/internal/config"
	"github.com/davidsunday2/careersim/internal/httpserver"
	"github.com/davidsunday2/careersim/internal/jobmarket"
	"github.com/davidsunday2/careersim/internal/persona"
	"github.com/davidsunday2/careersim/internal/sequencer"
	"github.com/davidsunday2/careersim/internal/storage"
	"github.com/davidsunday2/careersim/internal/store"
	"github.com/davidsunday2/careersim/internal/synthesize"
	"github.com/davidsunday2/careersim/internal/transcribe"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open session store")
	}
	blobs, err := openBlobs(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open blob storage")
	}

	var retriever persona.Retriever
	if cfg.JobMarketURL != "" {
		retriever = jobmarket.New(cfg.JobMarketURL, cfg.JobMarketKey)
	}

	seqCfg := sequencer.DefaultConfig()
	seqCfg.ConfidenceThreshold = cfg.ConfidenceThreshold

	hub := httpserver.NewHub()
	seq := sequencer.New(
		st,
		blobs,
		transcribe.NewClient(cfg.OpenAIKey),
		persona.NewGenerator(cfg.OpenAIKey, cfg.OpenAIModel, retriever),
		synthesize.NewClient(cfg.OpenAIKey, blobs),
		seqCfg,
		hub,
	)

	srv := httpserver.New(seq, verifier(cfg), hub)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.SQLitePath == "" {
		return store.NewMemory(), nil
	}
	return store.OpenSQLite(cfg.SQLitePath)
}

func openBlobs(cfg config.Config) (storage.BlobStore, error) {
	if cfg.SupabaseURL == "" {
		return storage.NewMemory(), nil
	}
	return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
}

// verifier selects the auth collaborator; without one configured, a single
// static dev token (DEV_TOKEN env, user "dev") keeps local runs usable.
func verifier(cfg config.Config) auth.Verifier {
	if cfg.AuthServiceURL != "" {
		return auth.NewHTTPVerifier(cfg.AuthServiceURL)
	}
	token := os.Getenv("DEV_TOKEN")
	if token == "" {
		token = "dev"
	}
	return auth.StaticVerifier{token: "dev"}
}
