package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DineshTeja/aria/internal/avatar"
	"github.com/DineshTeja/aria/internal/classify"
	"github.com/DineshTeja/aria/internal/clinic"
	"github.com/DineshTeja/aria/internal/config"
	"github.com/DineshTeja/aria/internal/httpserver"
	"github.com/DineshTeja/aria/internal/llm"
	"github.com/DineshTeja/aria/internal/speech"
	"github.com/DineshTeja/aria/internal/store"
	"github.com/DineshTeja/aria/internal/transcript"
	"github.com/DineshTeja/aria/internal/turn"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	logger := log.With().Str("service", "aria").Logger()

	cfg := config.Load()

	client := llm.NewOpenAIClient(cfg.OpenAIKey)
	models := clinic.Models{
		Chat:       cfg.ChatModel,
		Classify:   cfg.ClassifyModel,
		Specialist: cfg.SpecialistModel,
		Vision:     cfg.VisionModel,
		Embedding:  cfg.EmbeddingModel,
	}

	var repo *store.Repository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open database")
		}
		defer db.Close()
		repo = store.NewRepository(db)
	}

	var searcher clinic.KnowledgeSearcher
	var directory clinic.Directory
	if repo != nil {
		searcher = repo
		directory = repo
	}

	patient := clinic.Patient{Locality: cfg.PatientLocality, Region: cfg.PatientRegion}

	responder := clinic.NewResponder(client, searcher, models, logger)
	gateway := classify.NewGateway(client, cfg.ClassifyModel, logger)
	locator := clinic.NewLocator(client, directory, models, logger)
	reporter := clinic.NewReporter(client, models, logger)
	analyst := clinic.NewImageAnalyst(client, models)
	planner := clinic.NewSearchPlanner(client, models, logger)

	deps := httpserver.Deps{
		Responder:  responder,
		Classifier: gateway,
		Locator:    locator,
		Reporter:   reporter,
		Analyst:    analyst,
		Planner:    planner,
		Patient:    patient,
	}
	if repo != nil {
		deps.Knowledge = clinic.NewKnowledgeSearch(client, planner, repo, models)
		deps.Physicians = clinic.NewPhysicianSearch(repo)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The conversation runtime is optional: without an avatar endpoint the
	// service still serves the stateless HTTP pipeline.
	if cfg.AvatarWSURL != "" {
		runtime := newConversationRuntime(ctx, cfg, gateway, responder, locator, patient, logger)
		if err := runtime.start(); err != nil {
			logger.Error().Err(err).Msg("conversation runtime failed to start, continuing without it")
		} else {
			defer runtime.stop()
			deps.Photos = runtime
		}
	}

	srv := httpserver.New(deps, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}

// conversationRuntime ties the avatar session, the speech monitor and the
// turn controller into one live conversation loop.
type conversationRuntime struct {
	ctx     context.Context
	session *avatar.Session
	monitor *speech.Monitor
	ctrl    *turn.Controller
	acc     *transcript.Accumulator
	log     zerolog.Logger
}

func newConversationRuntime(ctx context.Context, cfg config.Config,
	gateway *classify.Gateway, responder *clinic.Responder, locator *clinic.Locator,
	patient clinic.Patient, logger zerolog.Logger) *conversationRuntime {

	rt := &conversationRuntime{
		ctx: ctx,
		acc: transcript.NewAccumulator(),
		log: logger.With().Str("component", "runtime").Logger(),
	}

	rt.session = avatar.NewSession(avatar.Options{
		URL:                  cfg.AvatarWSURL,
		APIKey:               cfg.AvatarAPIKey,
		PersonaID:            cfg.AvatarPersonaID,
		DisableBrains:        cfg.DisableBrains,
		DisableFillerPhrases: cfg.DisableFillerPhrases,
	}, logger)

	rt.ctrl = turn.NewController(gateway, responder, locator, rt.session, rt.acc, patient,
		turn.Events{
			OnMicChanged: func(on bool) { rt.monitor.SetEnabled(on) },
			OnPhotoRequested: func() {
				rt.log.Info().Msg("awaiting a photo from the user")
			},
			OnError: func(err error) {
				rt.log.Error().Err(err).Msg("conversation error")
			},
		}, turn.Config{}, logger)

	rt.monitor = speech.NewMonitor(speech.Events{
		OnSpeaking: rt.ctrl.OnUserSpeaking,
		OnStopped:  func() { rt.ctrl.OnUserStoppedSpeaking(ctx) },
	})

	return rt
}

func (rt *conversationRuntime) start() error {
	if err := rt.session.Connect(); err != nil {
		return err
	}
	rt.monitor.Start()
	rt.ctrl.StartSession()
	go rt.pumpEvents()
	return nil
}

func (rt *conversationRuntime) stop() {
	rt.ctrl.EndSession()
	rt.monitor.Stop()
	_ = rt.session.Close()
}

// pumpEvents feeds avatar events into the transcript and the monitor.
func (rt *conversationRuntime) pumpEvents() {
	for {
		select {
		case <-rt.ctx.Done():
			return
		case ev := <-rt.session.Events():
			switch ev.Type {
			case avatar.EventMessage:
				rt.acc.Append(transcript.Message{
					ID:          ev.Message.ID,
					Role:        transcript.Role(ev.Message.Role),
					Content:     ev.Message.Content,
					Interrupted: ev.Message.Interrupted,
				})
			case avatar.EventHistory:
				messages := make([]transcript.Message, 0, len(ev.History))
				for _, m := range ev.History {
					messages = append(messages, transcript.Message{
						ID:          m.ID,
						Role:        transcript.Role(m.Role),
						Content:     m.Content,
						Interrupted: m.Interrupted,
					})
				}
				rt.acc.ReplaceAll(messages)
			case avatar.EventAudio:
				rt.monitor.FeedPCM16(ev.Audio)
			case avatar.EventClosed:
				rt.log.Warn().Msg("avatar connection lost, reconnecting")
				if err := rt.session.Reconnect(); err != nil {
					rt.log.Error().Err(err).Msg("avatar reconnect failed")
				}
			case avatar.EventError:
				rt.log.Warn().Err(ev.Err).Msg("avatar reported an error")
			}
		}
	}
}

// SubmitPhoto implements httpserver.PhotoReceiver.
func (rt *conversationRuntime) SubmitPhoto(analysis string) {
	rt.ctrl.SubmitPhoto(rt.ctx, analysis)
}

// SkipPhoto implements httpserver.PhotoReceiver.
func (rt *conversationRuntime) SkipPhoto() {
	rt.ctrl.SkipPhoto(rt.ctx)
}
