package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vovarama1992/voice_mimic/internal/artifacts"
	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/audio/mp3"
	"github.com/Vovarama1992/voice_mimic/internal/audio/oggopus"
	"github.com/Vovarama1992/voice_mimic/internal/config"
	"github.com/Vovarama1992/voice_mimic/internal/delivery"
	"github.com/Vovarama1992/voice_mimic/internal/error_notificator"
	"github.com/Vovarama1992/voice_mimic/internal/journal"
	"github.com/Vovarama1992/voice_mimic/internal/metrics"
	"github.com/Vovarama1992/voice_mimic/internal/retry"
	"github.com/Vovarama1992/voice_mimic/internal/session"
	"github.com/Vovarama1992/voice_mimic/internal/speech"
	"github.com/Vovarama1992/voice_mimic/internal/telegram"
	"github.com/Vovarama1992/voice_mimic/internal/voice"
	"github.com/Vovarama1992/voice_mimic/internal/worker"
)

func main() {

	// =========================================================================
	// ENV / CONFIG
	// =========================================================================

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	baseLogger, _ := zap.NewProduction()
	defer baseLogger.Sync()
	zl := logger.NewZapLogger(baseLogger.Sugar())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	// =========================================================================
	// INFRASTRUCTURE
	// =========================================================================

	store, err := newArtifactStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init artifact store: %v", err)
	}
	baseLogger.Info("[main] artifact store ready", zap.String("store", store.Name()))

	runJournal, closeJournal, err := newJournal(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init journal: %v", err)
	}
	defer closeJournal()

	codec := audio.NewTranscoder()
	oggopus.Register(codec)
	mp3.Register(codec)

	// =========================================================================
	// TELEGRAM / ERROR NOTIFICATION
	// =========================================================================

	botApp, err := telegram.NewBotApp(cfg.TelegramToken, telegram.Options{SendRate: cfg.SendRate}, baseLogger)
	if err != nil {
		log.Fatalf("failed to init telegram bot: %v", err)
	}

	var errInfra error_notificator.Notificator
	if cfg.AdminChatID != 0 {
		errInfra = error_notificator.NewInfra(botApp, cfg.AdminChatID, baseLogger)
	}
	errService := error_notificator.NewService(errInfra, baseLogger)

	// =========================================================================
	// CLIENTS (TTS / STT)
	// =========================================================================

	policy := retry.DefaultPolicy()
	policy.Timeout = cfg.ExternalTimeout
	policy.Observe = func(op, outcome string) {
		met.ExternalCalls.WithLabelValues(op, outcome).Inc()
	}

	var (
		tts speech.Synthesizer
		stt speech.Recognizer
	)
	if cfg.OpenAIKey != "" {
		openAIClient := speech.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIVoice)
		tts, stt = openAIClient, openAIClient
	}
	if cfg.STTProvider == "deepgram" {
		stt = speech.NewDeepgramClient(cfg.DeepgramKey, "")
	}
	if cfg.TTSProvider == "elevenlabs" {
		tts = speech.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsBaseURL)
	}
	speechService := speech.NewService(tts, stt, policy, baseLogger)

	// =========================================================================
	// SESSION MACHINE
	// =========================================================================

	pool := worker.New(cfg.Workers, cfg.QueueSize, baseLogger, met.QueueDepth)

	deps := session.Deps{
		Sender:    botApp,
		Source:    botApp,
		Codec:     codec,
		TTS:       speechService,
		Extractor: voice.NewExtractor(),
		Matcher: voice.NewMatcher(voice.MatcherConfig{
			PreserveFormants: cfg.FormantPreserve,
			TempoMatch:       cfg.TempoMatch,
		}),
		Artifacts: artifacts.NewManager(store, baseLogger, met),
		Pool:      pool,
		Journal:   runJournal,
		Notifier:  errService,
		Metrics:   met,
		Log:       baseLogger,
	}
	if cfg.SpeechToSpeech {
		deps.STT = speechService
	}

	machine := session.NewMachine(session.Config{
		Mismatch:       session.MismatchPolicy(cfg.MismatchPolicy),
		SpeechToSpeech: cfg.SpeechToSpeech,
		TTSLanguage:    cfg.TTSLanguage,
		STTLanguage:    cfg.STTLanguage,
		ReplyContainer: audio.ContainerOggOpus,
		External:       policy,
	}, deps)

	// =========================================================================
	// HTTP ROUTER
	// =========================================================================

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	sessionHandler := delivery.NewSessionHandler(machine, runJournal, zl)
	delivery.RegisterRoutes(r, sessionHandler, met.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// =========================================================================
	// START
	// =========================================================================

	g, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)

	g.Go(func() error {
		return botApp.Run(gctx, machine)
	})

	g.Go(func() error {
		zl.Log(logger.LogEntry{
			Level:   "info",
			Message: "listening at " + srv.Addr,
			Service: "voice_mimic",
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// BACKGROUND JOBS
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := machine.Stats()
				baseLogger.Info("[sessions] snapshot",
					zap.Int("awaiting_voice_sample", stats[session.AwaitingVoiceSample]),
					zap.Int("awaiting_text", stats[session.AwaitingText]),
					zap.Int("ended", stats[session.Ended]),
					zap.Int64("artifacts_live", deps.Artifacts.Live()),
				)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		pool.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		baseLogger.Error("[main] stopped with error", zap.Error(err))
		os.Exit(1)
	}
	baseLogger.Info("[main] stopped")
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	switch cfg.ArtifactStore {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return artifacts.NewRedisStore(client, cfg.ArtifactTTL), nil
	case "s3":
		return artifacts.NewS3Store(ctx, artifacts.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Secure:    cfg.S3Secure,
		})
	default:
		return artifacts.NewFSStore(cfg.ArtifactDir)
	}
}

// без DATABASE_URL прогоны хранятся в памяти
func newJournal(ctx context.Context, cfg *config.Config) (journal.Journal, func(), error) {
	if cfg.DatabaseURL == "" {
		return journal.NewMemory(0), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}

	repo := journal.NewRepo(db)
	if err := repo.EnsureSchema(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() { db.Close() }, nil
}
