package main

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/pitchloop/pitchloop/internal/config"
	"github.com/pitchloop/pitchloop/internal/prospect"
	"github.com/pitchloop/pitchloop/internal/recognizer"
	"github.com/pitchloop/pitchloop/internal/session"
	"github.com/pitchloop/pitchloop/internal/speaker"
	"github.com/pitchloop/pitchloop/internal/storage"
	"github.com/pitchloop/pitchloop/internal/transport"
	"github.com/pitchloop/pitchloop/internal/turn"
	"github.com/pitchloop/pitchloop/internal/ui"
)

//go:embed static/*
var staticFiles embed.FS

// backend is the full surface the engine needs from either the remote
// roleplay service or the offline simulator.
type backend interface {
	turn.Backend
	session.Backend
	ScenarioInfo(ctx context.Context, id string) (transport.Scenario, error)
}

func main() {
	log.Println("pitchloop: starting")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: load .env: %v", err)
	}

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "pitchloop.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.AccessToken != "" {
		tok := &oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}
		if err := store.SaveToken(tok); err != nil {
			log.Fatalf("store access token failed: %v", err)
		}
	}

	var be backend
	if cfg.BackendURL != "" {
		be = transport.New(cfg.BackendURL, store, transport.WithUnauthorizedHook(func() {
			if err := store.ClearToken(); err != nil {
				log.Printf("warning: clear stored token: %v", err)
			}
		}))
	} else {
		log.Println("no backend URL configured, using the offline prospect")
		be = prospect.NewSimulator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}

	recognizer.InitAudio()
	defer recognizer.TeardownAudio()

	rec := recognizer.NewDeepgram(recognizer.Options{
		APIKey:      cfg.DeepgramAPIKey,
		SampleRates: cfg.SampleRateCandidates(),
		Mobile:      cfg.Mobile,
	})

	spk, err := speaker.New(cfg.PlayerCommand)
	if err != nil {
		log.Fatalf("speaker init failed: %v", err)
	}

	sessions := session.NewManager(be, store)

	hub := ui.NewHub()
	presenter := ui.NewPresenter(hub)

	infoCtx, infoCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if sc, err := be.ScenarioInfo(infoCtx, cfg.ScenarioID); err != nil {
		log.Printf("warning: scenario lookup failed: %v", err)
	} else {
		presenter.SetScenario(sc.Name)
	}
	infoCancel()

	ctrl := turn.New(turn.Config{
		ScenarioID:           cfg.ScenarioID,
		Mode:                 cfg.Mode,
		InterruptionsEnabled: cfg.InterruptionsEnabled,
		Mobile:               cfg.Mobile,
		EouSilence:           cfg.ParsedEouSilence(),
		Impatience:           cfg.ParsedImpatience(),
		Hangup:               cfg.ParsedHangup(),
		RestartMinInterval:   cfg.ParsedRestartMinInterval(),
		RestartCooldown:      cfg.ParsedRestartCooldown(),
		MaxRestartFailures:   cfg.MaxRestartFailures,
	}, be, rec, spk, sessions, presenter, nil)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sessionID, active, probeErr := sessions.Probe(probeCtx)
	probeCancel()
	switch {
	case probeErr != nil:
		log.Printf("warning: startup session probe failed: %v", probeErr)
	case active:
		log.Printf("resuming existing session %s", sessionID)
		ctrl.ResumeExisting(sessionID)
	}

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static assets init failed: %v", err)
	}

	handler := ui.Handler(assets, hub, presenter, ctrl.Record(), ui.ControlHooks{
		StartCall:     ctrl.StartCall,
		EndCall:       ctrl.EndCall,
		MicTap:        ctrl.MicTap,
		SetVisibility: ctrl.SetVisibility,
		Warnings:      func() []string { return warnings },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ctrl.Run(ctx)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		log.Printf("pitchloop: web UI on http://%s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("pitchloop: shutting down")

	// Give the controller a moment to end the call and fetch coaching
	// before tearing everything down.
	ctrl.EndCall()
	time.Sleep(500 * time.Millisecond)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}
