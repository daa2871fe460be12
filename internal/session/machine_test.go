package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/dsp"
	"github.com/Vovarama1992/voice_mimic/internal/journal"
	"github.com/Vovarama1992/voice_mimic/internal/speech"
	"github.com/Vovarama1992/voice_mimic/internal/voice"
	"github.com/Vovarama1992/voice_mimic/internal/worker"
)

const waitFor = 10 * time.Second

func replyF0(t *testing.T, data []byte) (audio.Buffer, float64) {
	t.Helper()
	buf, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	q := buf.SampleRate / 4
	require.Greater(t, len(buf.Samples), 2*q)
	f0, _, ok := dsp.MeanVoicedF0(dsp.TrackPitch(buf.Samples[q:len(buf.Samples)-q], buf.SampleRate, dsp.DefaultPitchConfig()))
	require.True(t, ok, "reply has no voiced frames")
	return buf, f0
}

func TestStart_Greets(t *testing.T) {
	h := newHarness(t)
	h.m.Handle(context.Background(), startEv(1))

	s, ok := h.m.Session(1)
	require.True(t, ok)
	assert.Equal(t, AwaitingVoiceSample, s.State)
	assert.Nil(t, s.Profile)
	assert.Nil(t, s.Sample)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, []string{msgGreeting}, h.sender.Texts())
}

func TestEndToEnd_MatchesSpeakerPitch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const uid = 7

	h.source.Put("sample", wavTone(t, 150, 48000, 3))
	h.m.Handle(ctx, startEv(uid))
	h.m.Handle(ctx, voiceEv(uid, "sample"))

	s, ok := h.m.Session(uid)
	require.True(t, ok)
	require.Equal(t, AwaitingText, s.State)
	require.NotNil(t, s.Profile)
	require.NotNil(t, s.Sample)
	assert.InDelta(t, 150, s.Profile.MeanF0, 3)
	assert.False(t, s.Profile.Degraded)
	assert.EqualValues(t, 1, h.arts.Live(), "only the stored sample stays on disk")
	assert.Equal(t, []string{msgGreeting, msgCaptureAck, msgCaptureDone}, h.sender.Texts())

	h.m.Handle(ctx, textEv(uid, "Привет, как дела?"))

	assert.Equal(t, []string{msgGreeting, msgCaptureAck, msgCaptureDone}, h.sender.Texts(), "synthesis adds no text reply")
	voices := h.sender.Voices()
	require.Len(t, voices, 1)
	assert.Equal(t, int64(uid), voices[0].chatID)
	assert.Equal(t, msgReady, voices[0].caption)

	buf, f0 := replyF0(t, voices[0].data)
	assert.Equal(t, 24000, buf.SampleRate)
	assert.Len(t, buf.Samples, 24000)
	assert.InDelta(t, 150, f0, 6)

	runs := h.runs(t, uid)
	require.Len(t, runs, 2)
	synth, capture := runs[0], runs[1]
	assert.Equal(t, kindCapture, capture.Kind)
	assert.Equal(t, journal.StatusOK, capture.Status)
	assert.Equal(t, kindSynthesis, synth.Kind)
	assert.Equal(t, journal.StatusOK, synth.Status)
	assert.Equal(t, s.ID, synth.SessionID)
	assert.InDelta(t, 200, synth.SynthF0, 3)
	assert.InDelta(t, -4.98, synth.SemitoneDelta, 0.2)
	assert.InDelta(t, voice.SemitoneDelta(synth.MeanF0, synth.SynthF0), synth.SemitoneDelta, 1e-9)

	assert.EqualValues(t, 1, h.arts.Live(), "run artifacts are removed after the reply")
	after, _ := h.m.Session(uid)
	assert.Equal(t, AwaitingText, after.State)
	assert.Equal(t, s.Profile.MeanF0, after.Profile.MeanF0, "the profile is reused for the next text")
}

func TestCapture_DecodeErrorKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.source.Put("junk", []byte("RIFF....WAVEjunk"))
	h.m.Handle(ctx, startEv(1))
	h.m.Handle(ctx, voiceEv(1, "junk"))

	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingVoiceSample, s.State)
	assert.Nil(t, s.Profile)
	assert.Equal(t, []string{msgGreeting, msgCaptureAck, msgErrDecode}, h.sender.Texts())
	assert.Zero(t, h.arts.Live())
	assert.Zero(t, h.notifier.Count())

	runs := h.runs(t, 1)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestCapture_UnexpectedErrorNotifiesOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.err = errors.New("network down")

	h.m.Handle(ctx, startEv(1))
	h.m.Handle(ctx, voiceEv(1, "sample"))

	texts := h.sender.Texts()
	assert.Equal(t, msgErrCapture, texts[len(texts)-1])
	assert.Equal(t, 1, h.notifier.Count())
	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingVoiceSample, s.State)
}

func TestCapture_SilenceFallsBackToDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.source.Put("silent", wavTone(t, 0, 16000, 1.5))
	h.m.Handle(ctx, startEv(1))
	h.m.Handle(ctx, voiceEv(1, "silent"))

	s, _ := h.m.Session(1)
	require.Equal(t, AwaitingText, s.State)
	assert.True(t, s.Profile.Degraded)
	assert.Equal(t, voice.DefaultSourceF0, s.Profile.MeanF0)
	texts := h.sender.Texts()
	assert.Equal(t, msgCaptureNoPitch, texts[len(texts)-1])
}

func TestSynthesis_SilentTTSUsesDefaultSynthPitch(t *testing.T) {
	h := newHarness(t)
	h.capture(t, 1)
	h.tts.fn = toneTTS(t, 0)

	h.m.Handle(context.Background(), textEv(1, "тишина"))

	require.Len(t, h.sender.Voices(), 1)
	runs := h.runs(t, 1)
	assert.Equal(t, voice.DefaultSynthF0, runs[0].SynthF0)
	assert.Equal(t, journal.StatusOK, runs[0].Status)
}

func TestSynthesis_ProviderFailureKeepsProfile(t *testing.T) {
	h := newHarness(t)
	h.capture(t, 1)
	h.sender.Reset()
	h.tts.fn = func(context.Context, string) (speech.Clip, error) {
		return speech.Clip{}, &speech.SynthesisError{Provider: "fake", Err: errors.New("503")}
	}

	h.m.Handle(context.Background(), textEv(1, "текст"))

	assert.Equal(t, []string{msgErrSynthesis}, h.sender.Texts())
	assert.Empty(t, h.sender.Voices())
	assert.Zero(t, h.notifier.Count())

	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingText, s.State)
	assert.NotNil(t, s.Profile)
	assert.EqualValues(t, 1, h.arts.Live())
	assert.Equal(t, journal.StatusFailed, h.runs(t, 1)[0].Status)
}

func TestSynthesis_SendVoiceFailureReplies(t *testing.T) {
	h := newHarness(t)
	h.capture(t, 1)
	h.sender.Reset()
	h.sender.FailVoice(errors.New("telegram: 502"))

	h.m.Handle(context.Background(), textEv(1, "текст"))

	assert.Equal(t, []string{msgErrSynthGen}, h.sender.Texts())
	assert.Empty(t, h.sender.Voices())
	// остаётся только образец голоса
	assert.EqualValues(t, 1, h.arts.Live())

	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingText, s.State)
	assert.Equal(t, journal.StatusFailed, h.runs(t, 1)[0].Status)
}

func TestSynthesis_EmptyText(t *testing.T) {
	h := newHarness(t)
	h.capture(t, 1)
	h.sender.Reset()

	h.m.Handle(context.Background(), textEv(1, "   "))

	assert.Equal(t, []string{msgEmptyText}, h.sender.Texts())
	assert.Empty(t, h.tts.Texts())
}

func TestMismatch_IgnoreIsSilent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.Handle(ctx, textEv(1, "hello"))
	h.m.Handle(ctx, voiceEv(1, "sample"))
	assert.Empty(t, h.sender.Texts())
	_, ok := h.m.Session(1)
	assert.False(t, ok)

	h.m.Handle(ctx, startEv(1))
	h.m.Handle(ctx, textEv(1, "too early"))
	assert.Equal(t, []string{msgGreeting}, h.sender.Texts())

	h.capture(t, 2)
	h.sender.Reset()
	h.m.Handle(ctx, voiceEv(2, "sample150"))
	assert.Empty(t, h.sender.Texts())
	assert.Empty(t, h.sender.Voices())
	s, _ := h.m.Session(2)
	assert.Equal(t, AwaitingText, s.State)
}

func TestMismatch_GuideReplies(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.Mismatch = MismatchGuide })
	ctx := context.Background()

	h.m.Handle(ctx, textEv(1, "hello"))
	assert.Equal(t, []string{msgGuideStart}, h.sender.Texts())

	h.sender.Reset()
	h.m.Handle(ctx, startEv(1))
	h.m.Handle(ctx, textEv(1, "too early"))
	assert.Equal(t, []string{msgGreeting, msgGuideNeedVoice}, h.sender.Texts())

	h.capture(t, 2)
	h.sender.Reset()
	h.m.Handle(ctx, voiceEv(2, "sample150"))
	assert.Equal(t, []string{msgGuideNeedText}, h.sender.Texts())

	h.sender.Reset()
	h.m.Handle(ctx, cancelEv(2))
	h.m.Handle(ctx, textEv(2, "after the end"))
	assert.Equal(t, []string{msgCancelled, msgGuideStart}, h.sender.Texts())
}

func TestCancel_ReleasesSample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.Handle(ctx, cancelEv(1))
	s, ok := h.m.Session(1)
	require.True(t, ok)
	assert.Equal(t, Ended, s.State)

	h.capture(t, 2)
	before, _ := h.m.Session(2)
	require.EqualValues(t, 1, h.arts.Live())

	h.m.Handle(ctx, cancelEv(2))
	after, _ := h.m.Session(2)
	assert.Equal(t, Ended, after.State)
	assert.Equal(t, before.ID, after.ID)
	assert.Nil(t, after.Profile)
	assert.Nil(t, after.Sample)
	assert.Zero(t, h.arts.Live())

	h.m.Handle(ctx, startEv(2))
	fresh, _ := h.m.Session(2)
	assert.Equal(t, AwaitingVoiceSample, fresh.State)
	assert.NotEqual(t, before.ID, fresh.ID)
}

func TestStart_ReplacesPreviousSample(t *testing.T) {
	h := newHarness(t)
	h.capture(t, 1)
	require.EqualValues(t, 1, h.arts.Live())

	h.m.Handle(context.Background(), startEv(1))
	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingVoiceSample, s.State)
	assert.Zero(t, h.arts.Live())
}

func TestCancelDuringSynthesis_DiscardsResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.capture(t, 1)
	h.sender.Reset()

	entered := make(chan struct{})
	release := make(chan struct{})
	h.tts.fn = func(ctx context.Context, _ string) (speech.Clip, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return speech.Clip{}, ctx.Err()
		}
		data, err := audio.EncodeWAV(tone(200, 24000, 0.5))
		return speech.Clip{Data: data, Container: audio.ContainerWAV}, err
	}

	h.m.Dispatch(ctx, textEv(1, "долгий текст"))
	<-entered

	// отмена не ждёт в очереди за текущей задачей
	h.m.Dispatch(ctx, cancelEv(1))
	s, _ := h.m.Session(1)
	assert.Equal(t, Ended, s.State)
	close(release)

	require.Eventually(t, func() bool {
		texts := h.sender.Texts()
		return len(texts) == 2
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{msgCancelled, msgDiscarded}, h.sender.Texts())
	assert.Empty(t, h.sender.Voices())
	require.Eventually(t, func() bool { return h.arts.Live() == 0 }, waitFor, 10*time.Millisecond)

	runs := h.runs(t, 1)
	assert.Equal(t, journal.StatusDiscarded, runs[0].Status)
	after, _ := h.m.Session(1)
	assert.Equal(t, Ended, after.State)
}

func TestRestartDuringCapture_DiscardsProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.Put("slow", wavTone(t, 150, 16000, 1.5))

	h.m.Handle(ctx, startEv(1))
	first, _ := h.m.Session(1)
	h.m.Dispatch(ctx, voiceEv(1, "slow"))
	<-h.source.entered

	h.m.Handle(ctx, startEv(1))
	close(h.source.release)

	require.Eventually(t, func() bool {
		texts := h.sender.Texts()
		return len(texts) > 0 && texts[len(texts)-1] == msgDiscarded
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.arts.Live() == 0 }, waitFor, 10*time.Millisecond)

	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingVoiceSample, s.State)
	assert.NotEqual(t, first.ID, s.ID)
	assert.Nil(t, s.Profile)
}

func TestSameUser_RunsAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.capture(t, 1)

	var inflight, peak atomic.Int32
	h.tts.fn = func(_ context.Context, text string) (speech.Clip, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		freq, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return speech.Clip{}, err
		}
		data, err := audio.EncodeWAV(tone(freq, 24000, 0.6))
		return speech.Clip{Data: data, Container: audio.ContainerWAV}, err
	}

	freqs := []float64{170, 190, 210, 230}
	for _, f := range freqs {
		h.m.Dispatch(ctx, textEv(1, strconv.FormatFloat(f, 'f', 0, 64)))
	}

	require.Eventually(t, func() bool { return len(h.sender.Voices()) == len(freqs) }, waitFor, 10*time.Millisecond)
	assert.EqualValues(t, 1, peak.Load())
	assert.Equal(t, []string{"170", "190", "210", "230"}, h.tts.Texts())

	for _, v := range h.sender.Voices() {
		_, f0 := replyF0(t, v.data)
		assert.InDelta(t, 150, f0, 6)
	}

	var synth []float64
	for _, r := range h.runs(t, 1) {
		if r.Kind == kindSynthesis {
			synth = append(synth, r.SynthF0)
			assert.InDelta(t, voice.SemitoneDelta(r.MeanF0, r.SynthF0), r.SemitoneDelta, 1e-9)
		}
	}
	require.Len(t, synth, len(freqs))
	sort.Float64s(synth)
	for i, f := range freqs {
		assert.InDelta(t, f, synth[i], 4)
	}
}

func TestDifferentUsers_RunInParallel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.capture(t, 1)
	h.capture(t, 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	data := wavTone(t, 200, 24000, 0.5)
	h.tts.fn = func(ctx context.Context, text string) (speech.Clip, error) {
		if text == "block" {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
				return speech.Clip{}, ctx.Err()
			}
		}
		return speech.Clip{Data: data, Container: audio.ContainerWAV}, nil
	}
	defer close(release)

	h.m.Dispatch(ctx, textEv(1, "block"))
	<-entered
	h.m.Dispatch(ctx, textEv(2, "free"))

	require.Eventually(t, func() bool {
		v := h.sender.Voices()
		return len(v) == 1 && v[0].chatID == 2
	}, waitFor, 10*time.Millisecond)
}

func TestBusyUser_HoldsOneWorker(t *testing.T) {
	pool := worker.New(2, 32, zap.NewNop(), nil)
	h := newHarness(t, func(_ *Config, d *Deps) { d.Pool = pool })
	ctx := context.Background()
	h.capture(t, 1)
	h.capture(t, 2)
	h.sender.Reset()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	data := wavTone(t, 200, 24000, 0.5)
	h.tts.fn = func(ctx context.Context, text string) (speech.Clip, error) {
		if text == "first" {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return speech.Clip{}, ctx.Err()
			}
		}
		return speech.Clip{Data: data, Container: audio.ContainerWAV}, nil
	}

	h.m.Dispatch(ctx, textEv(1, "first"))
	<-entered
	h.m.Dispatch(ctx, textEv(1, "second"))
	h.m.Dispatch(ctx, textEv(2, "other"))

	require.Eventually(t, func() bool {
		v := h.sender.Voices()
		return len(v) == 1 && v[0].chatID == 2
	}, waitFor, 10*time.Millisecond)

	unblock()
	require.Eventually(t, func() bool { return len(h.sender.Voices()) == 3 }, waitFor, 10*time.Millisecond)
	v := h.sender.Voices()
	assert.EqualValues(t, 1, v[1].chatID)
	assert.EqualValues(t, 1, v[2].chatID)
	assert.Equal(t, []string{"first", "other", "second"}, h.tts.Texts())
}

func TestDispatch_UserQueueLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.capture(t, 1)
	h.sender.Reset()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	data := wavTone(t, 200, 24000, 0.3)
	h.tts.fn = func(ctx context.Context, text string) (speech.Clip, error) {
		if text == "first" {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return speech.Clip{}, ctx.Err()
			}
		}
		return speech.Clip{Data: data, Container: audio.ContainerWAV}, nil
	}

	h.m.Dispatch(ctx, textEv(1, "first"))
	<-entered
	for i := 0; i < maxPendingPerUser; i++ {
		h.m.Dispatch(ctx, textEv(1, "next"))
	}
	assert.Empty(t, h.sender.Texts())

	h.m.Dispatch(ctx, textEv(1, "overflow"))
	assert.Equal(t, []string{msgBusy}, h.sender.Texts())

	unblock()
	require.Eventually(t, func() bool { return len(h.sender.Voices()) == maxPendingPerUser+1 }, waitFor, 10*time.Millisecond)
	assert.NotContains(t, h.tts.Texts(), "overflow")
}

func TestHandle_RecoversPanic(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) { d.Extractor = panicExtractor{} })
	ctx := context.Background()
	h.source.Put("sample", wavTone(t, 150, 16000, 1))

	h.m.Handle(ctx, startEv(1))
	h.m.Handle(ctx, voiceEv(1, "sample"))

	assert.Equal(t, []string{msgGreeting, msgCaptureAck, msgErrInternal}, h.sender.Texts())
	assert.Equal(t, 1, h.notifier.Count())
	assert.Zero(t, h.arts.Live())
	s, _ := h.m.Session(1)
	assert.Equal(t, AwaitingVoiceSample, s.State)

	// блокировка пользователя освобождена
	h.m.Handle(ctx, voiceEv(1, "sample"))
	assert.Equal(t, 2, h.notifier.Count())
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, audio.Buffer) (voice.Profile, error) {
	panic("boom")
}

func TestDispatch_QueueFull(t *testing.T) {
	log := zap.NewNop()
	pool := worker.New(1, 0, log, nil)
	h := newHarness(t, func(_ *Config, d *Deps) { d.Pool = pool })

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	require.Eventually(t, func() bool {
		return pool.Submit(worker.Job{Name: "blocker", Run: func(context.Context) {
			close(started)
			<-release
		}}) == nil
	}, waitFor, time.Millisecond)
	<-started

	h.m.Dispatch(context.Background(), textEv(1, "hello"))
	assert.Equal(t, []string{msgBusy}, h.sender.Texts())

	// отклонённое событие не оставляет очередь пользователя занятой
	e := h.m.reg.entry(1)
	start, ok := e.enqueue(textEv(1, "again"), maxPendingPerUser)
	assert.True(t, ok)
	assert.True(t, start)
}

func TestSpeechToSpeech(t *testing.T) {
	stt := &fakeSTT{text: "привет"}
	h := newHarness(t, func(c *Config, d *Deps) {
		c.SpeechToSpeech = true
		d.STT = stt
	})
	h.capture(t, 1)
	h.sender.Reset()

	h.m.Handle(context.Background(), voiceEv(1, "sample150"))

	assert.Equal(t, []string{"привет"}, h.tts.Texts())
	require.Len(t, h.sender.Voices(), 1)
	assert.Empty(t, h.sender.Texts())
	runs := h.runs(t, 1)
	assert.Equal(t, kindSpeechToSpeech, runs[0].Kind)
	assert.Equal(t, journal.StatusOK, runs[0].Status)

	stt.text = " "
	h.m.Handle(context.Background(), voiceEv(1, "sample150"))
	assert.Equal(t, []string{msgNothingHeard}, h.sender.Texts())
	assert.Equal(t, journal.StatusFailed, h.runs(t, 1)[0].Status)
}

func TestEnd_ByOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.False(t, h.m.End(ctx, 1))

	h.capture(t, 1)
	h.sender.Reset()
	assert.True(t, h.m.End(ctx, 1))
	assert.Equal(t, []string{msgAdminEnd}, h.sender.Texts())
	assert.Zero(t, h.arts.Live())
	assert.False(t, h.m.End(ctx, 1))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.m.Handle(ctx, startEv(1))
	h.capture(t, 2)
	h.m.Handle(ctx, cancelEv(3))

	assert.Equal(t, map[State]int{AwaitingVoiceSample: 1, AwaitingText: 1, Ended: 1}, h.m.Stats())
}

func TestHelp(t *testing.T) {
	h := newHarness(t)
	h.m.Handle(context.Background(), Event{Kind: EventHelp, UserID: 1, ChatID: 1})
	assert.Equal(t, []string{msgHelp}, h.sender.Texts())
	_, ok := h.m.Session(1)
	assert.False(t, ok)
}
