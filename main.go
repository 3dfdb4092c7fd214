package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/room4-2/auralive/config"
	"github.com/room4-2/auralive/device"
	"github.com/room4-2/auralive/gemini"
	"github.com/room4-2/auralive/observe"
	"github.com/room4-2/auralive/server"
	"github.com/room4-2/auralive/session"
	"github.com/room4-2/auralive/store"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	connector, err := gemini.NewConnector(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to create Gemini connector: %v", err)
	}

	mic, err := device.NewMicrophone()
	if err != nil {
		log.Fatalf("Failed to init microphone: %v", err)
	}
	defer mic.Close()

	hub := server.NewHub()
	options := []session.Option{
		session.WithListener(hub),
		session.WithMetrics(metrics),
	}

	// Try to connect to Redis, but don't fail if unavailable
	recorder, err := store.Connect(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.TranscriptLimit, cfg.SessionTimeout)
	if err != nil {
		log.Printf("⚠️ Running without session storage: %v", err)
	} else {
		defer recorder.Close()
		options = append(options, session.WithRecorder(recorder))
	}

	manager := session.NewManager(connector, mic, device.NewSpeaker(), sessionOptions(cfg), options...)
	srv := server.NewServerWebsocket(cfg, manager, hub, provider.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Received shutdown signal...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return provider.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		Model:               cfg.Model,
		Voice:               cfg.Voice,
		SystemInstruction:   cfg.SystemPrompt,
		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
		TranscriptLimit:     cfg.TranscriptLimit,
		FrameSize:           cfg.FrameSize,
		SendQueueSize:       cfg.SendQueueSize,
		HandshakeTimeout:    cfg.HandshakeTimeout,
		StallTimeout:        cfg.StallTimeout,
	}
}
