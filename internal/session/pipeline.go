package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/artifacts"
	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/journal"
	"github.com/Vovarama1992/voice_mimic/internal/retry"
	"github.com/Vovarama1992/voice_mimic/internal/speech"
	"github.com/Vovarama1992/voice_mimic/internal/voice"
)

const (
	kindCapture        = "capture"
	kindSynthesis      = "synthesis"
	kindSpeechToSpeech = "speech_to_speech"
)

var (
	errNoAudio     = errors.New("event carries no audio")
	errNothingSaid = errors.New("transcript is empty")
)

// ---------- захват: образец голоса → профиль ----------

func (m *Machine) capture(ctx context.Context, ev Event, e *entry, s Session) {
	m.reply(ctx, ev.ChatID, msgCaptureAck)

	rec, run, done := m.begin(kindCapture, s)
	defer done()
	defer run.Close(ctx)

	sample, profile, err := m.capturePipeline(ctx, run, ev)
	if err != nil {
		m.fail(ctx, ev, rec, err, msgErrCapture)
		return
	}
	rec.MeanF0 = profile.MeanF0
	rec.Tempo = profile.Tempo

	// владение переходит к сессии до того, как образец станет в ней виден
	run.Detach(sample)
	var replaced *artifacts.Artifact
	ok := e.commit(s.ID, AwaitingVoiceSample, m.now(), func(next *Session) {
		replaced = next.Sample
		next.State = AwaitingText
		next.Profile = &profile
		next.Sample = &sample
	})
	if !ok {
		m.artifacts.Release(ctx, sample)
		m.discard(ctx, ev, rec)
		return
	}
	if replaced != nil {
		m.artifacts.Release(ctx, *replaced)
	}

	m.log.Info("[capture] profile stored",
		zap.Int64("user_id", ev.UserID),
		zap.String("session_id", s.ID),
		zap.Float64("mean_f0", profile.MeanF0),
		zap.Float64("tempo", profile.Tempo),
		zap.Bool("degraded", profile.Degraded),
	)
	m.finish(ctx, rec, journal.StatusOK, nil)

	if profile.Degraded {
		m.reply(ctx, ev.ChatID, msgCaptureNoPitch)
		return
	}
	m.reply(ctx, ev.ChatID, msgCaptureDone)
}

func (m *Machine) capturePipeline(ctx context.Context, run *artifacts.Run, ev Event) (artifacts.Artifact, voice.Profile, error) {
	data, container, err := m.fetch(ctx, ev)
	if err != nil {
		return artifacts.Artifact{}, voice.Profile{}, err
	}

	sample, err := run.Put(ctx, "sample", container.Ext(), data)
	if err != nil {
		return artifacts.Artifact{}, voice.Profile{}, err
	}

	buf, err := m.decode(ctx, run, "sample_pcm", data, container)
	if err != nil {
		return artifacts.Artifact{}, voice.Profile{}, err
	}

	profile, err := m.extractor.Extract(ctx, buf)
	if err != nil {
		return artifacts.Artifact{}, voice.Profile{}, err
	}
	return sample, profile, nil
}

// ---------- синтез: текст → подогнанный голос ----------

func (m *Machine) synthesize(ctx context.Context, ev Event, e *entry, s Session) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		m.reply(ctx, ev.ChatID, msgEmptyText)
		return
	}
	m.speak(ctx, ev, e, s, kindSynthesis, func(context.Context, *artifacts.Run) (string, error) {
		return text, nil
	})
}

func (m *Machine) speechToSpeech(ctx context.Context, ev Event, e *entry, s Session) {
	m.speak(ctx, ev, e, s, kindSpeechToSpeech, func(ctx context.Context, run *artifacts.Run) (string, error) {
		data, container, err := m.fetch(ctx, ev)
		if err != nil {
			return "", err
		}
		if _, err := run.Put(ctx, "voice_in", container.Ext(), data); err != nil {
			return "", err
		}
		if m.stt == nil {
			return "", &speech.RecognitionError{Provider: "none", Err: errors.New("recognizer is not configured")}
		}
		return m.stt.Transcribe(ctx, speech.Clip{Data: data, Container: container}, m.cfg.STTLanguage)
	})
}

func (m *Machine) speak(ctx context.Context, ev Event, e *entry, s Session, kind string, textOf func(context.Context, *artifacts.Run) (string, error)) {
	rec, run, done := m.begin(kind, s)
	defer done()
	defer run.Close(ctx)

	text, err := textOf(ctx, run)
	if err != nil {
		m.fail(ctx, ev, rec, err, msgErrSynthGen)
		return
	}
	if strings.TrimSpace(text) == "" {
		m.finish(ctx, rec, journal.StatusFailed, errNothingSaid)
		m.reply(ctx, ev.ChatID, msgNothingHeard)
		return
	}

	out, plan, err := m.synthPipeline(ctx, run, text, *s.Profile)
	rec.MeanF0 = plan.SourceMeanF0
	rec.SynthF0 = plan.SynthMeanF0
	rec.SemitoneDelta = plan.SemitoneDelta
	rec.Tempo = s.Profile.Tempo
	if err != nil {
		m.fail(ctx, ev, rec, err, msgErrSynthGen)
		return
	}

	if !e.current(s.ID, AwaitingText) {
		m.discard(ctx, ev, rec)
		return
	}

	if err := m.sender.SendVoice(ctx, ev.ChatID, out, msgReady); err != nil {
		m.log.Warn("[synth] send voice failed", zap.Int64("user_id", ev.UserID), zap.Error(err))
		m.finish(ctx, rec, journal.StatusFailed, err)
		m.reply(ctx, ev.ChatID, msgErrSynthGen)
		return
	}
	e.commit(s.ID, AwaitingText, m.now(), func(*Session) {})

	m.metrics.SemitoneDelta.Observe(plan.SemitoneDelta)
	m.log.Info("[synth] voice sent",
		zap.Int64("user_id", ev.UserID),
		zap.String("session_id", s.ID),
		zap.String("run_id", rec.ID),
		zap.Float64("synth_f0", plan.SynthMeanF0),
		zap.Float64("semitone_delta", plan.SemitoneDelta),
		zap.Float64("tempo_ratio", plan.TempoRatio),
	)
	m.finish(ctx, rec, journal.StatusOK, nil)
}

func (m *Machine) synthPipeline(ctx context.Context, run *artifacts.Run, text string, p voice.Profile) ([]byte, voice.Plan, error) {
	clip, err := m.tts.Synthesize(ctx, text, m.cfg.TTSLanguage)
	if err != nil {
		return nil, voice.Plan{}, err
	}
	if _, err := run.Put(ctx, "tts", clip.Container.Ext(), clip.Data); err != nil {
		return nil, voice.Plan{}, err
	}

	buf, err := m.decode(ctx, run, "tts_pcm", clip.Data, clip.Container)
	if err != nil {
		return nil, voice.Plan{}, err
	}

	shifted, plan, err := m.matcher.Apply(ctx, buf, p)
	if err != nil {
		return nil, plan, err
	}
	if err := m.putPCM(ctx, run, "shifted_pcm", shifted); err != nil {
		return nil, plan, err
	}

	out, err := retry.Do(ctx, m.ext, "encode", func(ctx context.Context) ([]byte, error) {
		return m.codec.Encode(ctx, shifted, m.cfg.ReplyContainer)
	})
	if err != nil {
		return nil, plan, err
	}
	if _, err := run.Put(ctx, "reply", m.cfg.ReplyContainer.Ext(), out); err != nil {
		return nil, plan, err
	}
	return out, plan, nil
}

// ---------- общие этапы ----------

func (m *Machine) fetch(ctx context.Context, ev Event) ([]byte, audio.Container, error) {
	if ev.Audio == nil {
		return nil, audio.ContainerUnknown, &audio.DecodeError{Err: errNoAudio}
	}
	ref := *ev.Audio
	data, err := retry.Do(ctx, m.ext, "fetch", func(ctx context.Context) ([]byte, error) {
		return m.source.Fetch(ctx, ref)
	})
	if err != nil {
		return nil, audio.ContainerUnknown, err
	}

	container := ref.Container
	if container == audio.ContainerUnknown {
		container = audio.DetectContainer(data)
	}
	return data, container, nil
}

func (m *Machine) decode(ctx context.Context, run *artifacts.Run, stage string, data []byte, c audio.Container) (audio.Buffer, error) {
	buf, err := retry.Do(ctx, m.ext, "decode", func(ctx context.Context) (audio.Buffer, error) {
		return m.codec.Decode(ctx, data, c)
	})
	if err != nil {
		return audio.Buffer{}, err
	}
	if err := m.putPCM(ctx, run, stage, buf); err != nil {
		return audio.Buffer{}, err
	}
	return buf, nil
}

// декодированные буферы сохраняем как WAV, каждый этап прогона учтён
func (m *Machine) putPCM(ctx context.Context, run *artifacts.Run, stage string, buf audio.Buffer) error {
	wav, err := audio.EncodeWAV(buf)
	if err != nil {
		return err
	}
	_, err = run.Put(ctx, stage, audio.ContainerWAV.Ext(), wav)
	return err
}

// ---------- учёт прогонов ----------

func (m *Machine) begin(kind string, s Session) (*journal.Run, *artifacts.Run, func()) {
	rec := &journal.Run{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		UserID:    s.UserID,
		Kind:      kind,
		StartedAt: m.now(),
	}
	run := m.artifacts.Begin(kind, s.UserID)

	m.metrics.RunsInFlight.Inc()
	started := time.Now()
	return rec, run, func() {
		m.metrics.RunsInFlight.Dec()
		m.metrics.RunDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}
}

func (m *Machine) finish(ctx context.Context, rec *journal.Run, status journal.Status, err error) {
	rec.Status = status
	if err != nil {
		rec.Error = err.Error()
	}
	rec.DurationMS = m.now().Sub(rec.StartedAt).Milliseconds()
	m.metrics.Events.WithLabelValues(rec.Kind, string(status)).Inc()

	if jerr := m.journal.Record(context.WithoutCancel(ctx), *rec); jerr != nil {
		m.log.Warn("[journal] record failed", zap.String("run_id", rec.ID), zap.Error(jerr))
	}
}

func (m *Machine) fail(ctx context.Context, ev Event, rec *journal.Run, err error, fallback string) {
	msg, known := userMessage(err, fallback)
	m.log.Warn("[session] run failed",
		zap.Int64("user_id", ev.UserID),
		zap.String("run_id", rec.ID),
		zap.String("kind", rec.Kind),
		zap.Error(err),
	)
	if !known {
		m.notify(ctx, err, fmt.Sprintf("Пользователь: %d\nЭтап: %s", ev.UserID, rec.Kind))
	}
	m.finish(ctx, rec, journal.StatusFailed, err)
	m.reply(ctx, ev.ChatID, msg)
}

// discard отбрасывает результат, если сессию за это время отменили или начали заново
func (m *Machine) discard(ctx context.Context, ev Event, rec *journal.Run) {
	m.log.Info("[session] result discarded", zap.Int64("user_id", ev.UserID), zap.String("run_id", rec.ID))
	m.finish(ctx, rec, journal.StatusDiscarded, nil)
	m.reply(ctx, ev.ChatID, msgDiscarded)
}

func userMessage(err error, fallback string) (string, bool) {
	var (
		de *audio.DecodeError
		ee *audio.EncodeError
		se *speech.SynthesisError
		re *speech.RecognitionError
	)
	switch {
	case errors.As(err, &de):
		return msgErrDecode, true
	case errors.As(err, &ee):
		return msgErrEncode, true
	case errors.As(err, &se):
		return msgErrSynthesis, true
	case errors.As(err, &re):
		return msgErrRecognition, true
	}
	return fallback, false
}
