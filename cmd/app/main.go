package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/api"
	cfgpkg "github.com/local/receiptprint/internal/config"
	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/dispatcher"
	"github.com/local/receiptprint/internal/layout"
	logpkg "github.com/local/receiptprint/internal/logger"
	"github.com/local/receiptprint/internal/metrics"
	"github.com/local/receiptprint/internal/printsheet"
	"github.com/local/receiptprint/internal/queue"
	"github.com/local/receiptprint/internal/rasterizer"
	"github.com/local/receiptprint/internal/records"
	"github.com/local/receiptprint/internal/session"
	"github.com/local/receiptprint/internal/source"
	"github.com/local/receiptprint/internal/statuscheck"
	"github.com/local/receiptprint/internal/store"
)

func main() {
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	density, err := layout.ParseDensity(cfg.Print.DefaultDensity)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid DEFAULT_DENSITY")
	}

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	// Batch status
	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	recs, err := records.NewFromURL(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init record store")
	}
	defer recs.Close()

	rast := rasterizer.New(rasterizer.Options{Engine: cfg.Render.Engine, MutoolPath: cfg.Render.MutoolPath})
	log.Info().Str("engine", rast.Engine().Name()).Msg("render engine resolved")
	cropper := crop.NewAutoCropper(rast)
	lib := source.NewLibrary()
	sessions := session.NewRegistry(rast, session.Viewport{Width: cfg.Render.ViewportWidth, Height: cfg.Render.ViewportHeight})
	defer sessions.CloseAll()

	sheet := layout.A4()
	sheet.MarginMM = cfg.Print.MarginMM
	sheet.GapMM = cfg.Print.GapMM
	sheet.CellPaddingMM = cfg.Print.CellPaddingMM

	s3opts := source.S3Options{
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	}
	maxUpload := int64(cfg.HTTP.MaxUploadMB) << 20
	fetcher := source.NewFetcher(source.FetcherOptions{
		S3:           s3opts,
		BaseDir:      cfg.Storage.SourceDir,
		AllowedHosts: cfg.Storage.SourceHosts,
		MaxBytes:     maxUpload,
	})

	srvAPI, err := api.New(api.Dependencies{
		Library:        lib,
		Fetcher:        fetcher,
		Sessions:       sessions,
		Cropper:        cropper,
		Composer:       printsheet.NewComposer(sheet, cfg.Print.DPI),
		DefaultDensity: density,
		Batch:          rq,
		BatchStatus:    rs,
		Records:        recs,
		Health: statuscheck.New(statuscheck.Options{
			Redis:    rq,
			Queue:    rq,
			S3Bucket: cfg.Storage.S3Bucket,
			S3:       s3opts,
			Engine:   func() string { return rast.Engine().Name() },
		}),
		Passcode:       cfg.HTTP.Passcode,
		MaxUploadBytes: maxUpload,
		RenderTimeout:  cfg.Render.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init api")
	}
	mux := http.NewServeMux()
	srvAPI.RegisterRoutes(mux)

	// Batch worker (single consumer)
	worker := dispatcher.New(dispatcher.Config{PollInterval: cfg.Queue.PollInterval}, rq, rs, lib, cropper)
	worker.Start()

	// Periodic cleanup of mutool temp files and idle sessions
	cleanupStop := make(chan struct{})
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-cleanupStop:
				return
			case <-t.C:
				if n := rasterizer.CleanupTemps("", cfg.Render.TempMaxAge); n > 0 {
					log.Info().Int("removed", n).Msg("render temp files cleaned")
				}
				if n := sessions.SweepIdle(cfg.Render.SessionIdleTTL); n > 0 {
					log.Info().Int("closed", n).Dur("idle_ttl", cfg.Render.SessionIdleTTL).Msg("idle sessions closed")
				}
			}
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: mux}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	close(cleanupStop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := worker.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("batch worker did not stop in time")
	}
	fmt.Println("shutdown complete")
}
