package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/artifacts"
	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/journal"
	"github.com/Vovarama1992/voice_mimic/internal/metrics"
	"github.com/Vovarama1992/voice_mimic/internal/retry"
	"github.com/Vovarama1992/voice_mimic/internal/worker"
)

type Config struct {
	Mismatch MismatchPolicy
	// SpeechToSpeech: голосовое в AwaitingText распознаётся и озвучивается заново.
	SpeechToSpeech bool
	TTSLanguage    string
	STTLanguage    string
	ReplyContainer audio.Container
	// External: таймаут и повтор для загрузки, декодирования и кодирования.
	External retry.Policy
}

type Deps struct {
	Sender    Sender
	Source    AudioSource
	Codec     audio.Codec
	TTS       Synthesizer
	STT       Recognizer // nil, если SpeechToSpeech выключен
	Extractor FeatureExtractor
	Matcher   PitchMatcher
	Artifacts *artifacts.Manager
	Pool      *worker.Pool
	Journal   journal.Recorder
	Notifier  Notifier // необязательный
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// Machine: машина состояний сессий. Start, cancel и help выполняются в горутине
// вызывающего, голос и текст уходят в пул воркеров.
type Machine struct {
	cfg Config
	ext retry.Policy

	sender    Sender
	source    AudioSource
	codec     audio.Codec
	tts       Synthesizer
	stt       Recognizer
	extractor FeatureExtractor
	matcher   PitchMatcher
	artifacts *artifacts.Manager
	pool      *worker.Pool
	journal   journal.Recorder
	notifier  Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger

	reg *Registry
	now func() time.Time
}

func NewMachine(cfg Config, d Deps) *Machine {
	if !cfg.Mismatch.Valid() {
		cfg.Mismatch = MismatchIgnore
	}
	if cfg.ReplyContainer == audio.ContainerUnknown {
		cfg.ReplyContainer = audio.ContainerOggOpus
	}

	m := &Machine{
		cfg:       cfg,
		sender:    d.Sender,
		source:    d.Source,
		codec:     d.Codec,
		tts:       d.TTS,
		stt:       d.STT,
		extractor: d.Extractor,
		matcher:   d.Matcher,
		artifacts: d.Artifacts,
		pool:      d.Pool,
		journal:   d.Journal,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       d.Log.With(zap.String("component", "session")),
		reg:       NewRegistry(),
		now:       time.Now,
	}
	if m.journal == nil {
		m.journal = journal.NewMemory(0)
	}

	ext := cfg.External
	next := ext.Retryable
	ext.Retryable = func(err error) bool {
		if isCodecError(err) {
			return false
		}
		return next == nil || next(err)
	}
	if ext.Observe == nil {
		ext.Observe = func(op, outcome string) {
			m.metrics.ExternalCalls.WithLabelValues(op, outcome).Inc()
		}
	}
	if ext.Logger == nil {
		ext.Logger = m.log
	}
	m.ext = ext
	return m
}

// максимум ожидающих событий одного пользователя
const maxPendingPerUser = 16

// Dispatch принимает событие от транспорта. Голос и текст одного пользователя
// встают в его очередь, её по порядку разбирает одна задача пула: занятый
// пользователь держит не больше одного воркера.
func (m *Machine) Dispatch(ctx context.Context, ev Event) {
	if ev.Kind != EventVoice && ev.Kind != EventText {
		m.Handle(ctx, ev)
		return
	}

	e := m.reg.entry(ev.UserID)
	start, ok := e.enqueue(ev, maxPendingPerUser)
	if !ok {
		m.reject(ctx, ev, worker.ErrQueueFull)
		return
	}
	if !start {
		return
	}

	err := m.pool.Submit(worker.Job{
		Name: string(ev.Kind),
		Run:  func(ctx context.Context) { m.drain(ctx, e) },
	})
	if err == nil {
		return
	}
	for _, dropped := range e.abandon() {
		m.reject(ctx, dropped, err)
	}
}

func (m *Machine) drain(ctx context.Context, e *entry) {
	for {
		ev, ok := e.next()
		if !ok {
			return
		}
		m.Handle(ctx, ev)
	}
}

func (m *Machine) reject(ctx context.Context, ev Event, err error) {
	m.log.Warn("[session] event rejected", zap.Int64("user_id", ev.UserID), zap.String("event", string(ev.Kind)), zap.Error(err))
	m.metrics.Events.WithLabelValues(string(ev.Kind), "rejected").Inc()
	if errors.Is(err, worker.ErrQueueFull) {
		m.reply(ctx, ev.ChatID, msgBusy)
	}
}

// Handle синхронно обрабатывает одно событие. Паника превращается в общий ответ
// пользователю и уведомление администратору.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			m.log.Error("[session] handler panicked",
				zap.Int64("user_id", ev.UserID),
				zap.String("event", string(ev.Kind)),
				zap.Error(err),
				zap.Stack("stack"),
			)
			m.metrics.Events.WithLabelValues(string(ev.Kind), "panic").Inc()
			m.notify(ctx, err, fmt.Sprintf("Пользователь: %d\nСобытие: %s", ev.UserID, ev.Kind))
			m.reply(ctx, ev.ChatID, msgErrInternal)
		}
	}()

	switch ev.Kind {
	case EventStart:
		m.start(ctx, ev)
	case EventCancel:
		m.cancel(ctx, ev.UserID, ev.ChatID, msgCancelled)
	case EventHelp:
		m.metrics.Events.WithLabelValues(string(EventHelp), "ok").Inc()
		m.reply(ctx, ev.ChatID, msgHelp)
	case EventVoice, EventText:
		m.route(ctx, ev)
	default:
		m.log.Warn("[session] unknown event", zap.String("event", string(ev.Kind)))
	}
}

// Session возвращает копию сессии пользователя.
func (m *Machine) Session(userID int64) (Session, bool) {
	return m.reg.Get(userID)
}

// Stats считает сессии по состояниям.
func (m *Machine) Stats() map[State]int {
	return m.reg.CountByState()
}

// End завершает активную сессию от имени администратора. false, если завершать нечего.
func (m *Machine) End(ctx context.Context, userID int64) bool {
	s, ok := m.reg.Get(userID)
	if !ok || s.State == Ended {
		return false
	}
	m.cancel(ctx, userID, userID, msgAdminEnd)
	return true
}

func (m *Machine) start(ctx context.Context, ev Event) {
	now := m.now()
	next := &Session{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		State:     AwaitingVoiceSample,
		CreatedAt: now,
		UpdatedAt: now,
	}
	prev := m.reg.entry(ev.UserID).replace(next)
	if prev != nil && prev.Sample != nil {
		m.artifacts.Release(ctx, *prev.Sample)
	}

	m.log.Info("[session] started", zap.Int64("user_id", ev.UserID), zap.String("session_id", next.ID))
	m.metrics.Events.WithLabelValues(string(EventStart), "ok").Inc()
	m.reply(ctx, ev.ChatID, msgGreeting)
}

func (m *Machine) cancel(ctx context.Context, userID, chatID int64, notice string) {
	e := m.reg.entry(userID)
	now := m.now()

	e.mu.Lock()
	prev := e.sess
	next := &Session{ID: uuid.NewString(), UserID: userID, State: Ended, CreatedAt: now, UpdatedAt: now}
	if prev != nil {
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
	}
	e.sess = next
	e.mu.Unlock()

	if prev != nil && prev.Sample != nil {
		m.artifacts.Release(ctx, *prev.Sample)
	}

	m.log.Info("[session] ended", zap.Int64("user_id", userID), zap.String("session_id", next.ID))
	m.metrics.Events.WithLabelValues(string(EventCancel), "ok").Inc()
	m.reply(ctx, chatID, notice)
}

type handler func(m *Machine, ctx context.Context, ev Event, e *entry, s Session)

// какие события принимает каждое состояние, остальное считается несоответствием
var transitions = map[State]map[EventKind]handler{
	AwaitingVoiceSample: {
		EventVoice: (*Machine).capture,
	},
	AwaitingText: {
		EventText:  (*Machine).synthesize,
		EventVoice: (*Machine).speechToSpeech,
	},
}

func (m *Machine) handlerFor(state State, kind EventKind) handler {
	if state == AwaitingText && kind == EventVoice && !m.cfg.SpeechToSpeech {
		return nil
	}
	return transitions[state][kind]
}

func (m *Machine) route(ctx context.Context, ev Event) {
	e := m.reg.entry(ev.UserID)
	e.runMu.Lock()
	defer e.runMu.Unlock()

	state := None
	s, ok := e.snapshot()
	if ok {
		state = s.State
	}

	h := m.handlerFor(state, ev.Kind)
	if h == nil {
		m.mismatch(ctx, ev, state)
		return
	}
	h(m, ctx, ev, e, s)
}

func (m *Machine) mismatch(ctx context.Context, ev Event, state State) {
	m.log.Debug("[session] unexpected event",
		zap.Int64("user_id", ev.UserID),
		zap.String("event", string(ev.Kind)),
		zap.Stringer("state", state),
		zap.String("policy", string(m.cfg.Mismatch)),
	)

	if m.cfg.Mismatch != MismatchGuide {
		m.metrics.Events.WithLabelValues(string(ev.Kind), "ignored").Inc()
		return
	}
	m.metrics.Events.WithLabelValues(string(ev.Kind), "guided").Inc()

	switch state {
	case AwaitingVoiceSample:
		m.reply(ctx, ev.ChatID, msgGuideNeedVoice)
	case AwaitingText:
		m.reply(ctx, ev.ChatID, msgGuideNeedText)
	default:
		m.reply(ctx, ev.ChatID, msgGuideStart)
	}
}

func (m *Machine) reply(ctx context.Context, chatID int64, text string) {
	if err := m.sender.SendText(ctx, chatID, text); err != nil {
		m.log.Warn("[session] send text failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (m *Machine) notify(ctx context.Context, err error, details string) {
	if m.notifier == nil {
		return
	}
	if nerr := m.notifier.Notify(ctx, err, details); nerr != nil {
		m.log.Warn("[session] notify failed", zap.Error(nerr))
	}
}

func isCodecError(err error) bool {
	var de *audio.DecodeError
	var ee *audio.EncodeError
	return errors.As(err, &de) || errors.As(err, &ee)
}
