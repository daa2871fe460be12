package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/artifacts"
	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/journal"
	"github.com/Vovarama1992/voice_mimic/internal/metrics"
	"github.com/Vovarama1992/voice_mimic/internal/retry"
	"github.com/Vovarama1992/voice_mimic/internal/speech"
	"github.com/Vovarama1992/voice_mimic/internal/voice"
	"github.com/Vovarama1992/voice_mimic/internal/worker"
)

type sent struct {
	chatID  int64
	text    string
	data    []byte
	caption string
}

type fakeSender struct {
	mu     sync.Mutex
	texts  []sent
	voices []sent
	// voiceErr: каждый SendVoice возвращает эту ошибку
	voiceErr error
}

func (s *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, sent{chatID: chatID, text: text})
	return nil
}

func (s *fakeSender) SendVoice(_ context.Context, chatID int64, data []byte, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voiceErr != nil {
		return s.voiceErr
	}
	s.voices = append(s.voices, sent{chatID: chatID, data: data, caption: caption})
	return nil
}

func (s *fakeSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	for i, m := range s.texts {
		out[i] = m.text
	}
	return out
}

func (s *fakeSender) Voices() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.voices...)
}

func (s *fakeSender) FailVoice(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceErr = err
}

func (s *fakeSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts, s.voices = nil, nil
}

type fakeSource struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
	// загрузка "slow" сигналит в entered и ждёт release
	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{files: map[string][]byte{}, entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (s *fakeSource) Fetch(ctx context.Context, ref AudioRef) ([]byte, error) {
	if ref.FileID == "slow" {
		s.entered <- struct{}{}
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.files[ref.FileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (s *fakeSource) Put(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = data
}

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
	fn    func(ctx context.Context, text string) (speech.Clip, error)
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, _ string) (speech.Clip, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, text)
}

func (f *fakeTTS) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeSTT struct{ text string }

func (f fakeSTT) Transcribe(context.Context, speech.Clip, string) (string, error) {
	return f.text, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *fakeNotifier) Notify(_ context.Context, err error, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
	return nil
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

func tone(freq float64, rate int, seconds float64) audio.Buffer {
	s := make([]float64, int(float64(rate)*seconds))
	if freq > 0 {
		for i := range s {
			t := float64(i) / float64(rate)
			s[i] = 0.4*math.Sin(2*math.Pi*freq*t) + 0.1*math.Sin(2*math.Pi*2*freq*t)
		}
	}
	return audio.Buffer{Samples: s, SampleRate: rate}
}

func wavTone(t testing.TB, freq float64, rate int, seconds float64) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(tone(freq, rate, seconds))
	require.NoError(t, err)
	return data
}

func toneTTS(t testing.TB, freq float64) func(context.Context, string) (speech.Clip, error) {
	data := wavTone(t, freq, 24000, 1)
	return func(context.Context, string) (speech.Clip, error) {
		return speech.Clip{Data: data, Container: audio.ContainerWAV}, nil
	}
}

type harness struct {
	m        *Machine
	sender   *fakeSender
	source   *fakeSource
	tts      *fakeTTS
	arts     *artifacts.Manager
	journal  *journal.Memory
	notifier *fakeNotifier
}

func newHarness(t *testing.T, opts ...func(*Config, *Deps)) *harness {
	t.Helper()

	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)
	met := metrics.New()
	log := zap.NewNop()

	h := &harness{
		sender:   &fakeSender{},
		source:   newFakeSource(),
		tts:      &fakeTTS{},
		arts:     artifacts.NewManager(store, log, met),
		journal:  journal.NewMemory(100),
		notifier: &fakeNotifier{},
	}
	h.tts.fn = toneTTS(t, 200)

	pool := worker.New(4, 32, log, met.QueueDepth)
	cfg := Config{
		Mismatch:       MismatchIgnore,
		TTSLanguage:    "ru",
		ReplyContainer: audio.ContainerWAV,
		External:       retry.Policy{Attempts: 2, Timeout: 5 * time.Second, Delay: time.Millisecond},
	}
	deps := Deps{
		Sender:    h.sender,
		Source:    h.source,
		Codec:     audio.NewTranscoder(),
		TTS:       h.tts,
		Extractor: voice.NewExtractor(),
		Matcher:   voice.NewMatcher(voice.MatcherConfig{PreserveFormants: true}),
		Artifacts: h.arts,
		Pool:      pool,
		Journal:   h.journal,
		Notifier:  h.notifier,
		Metrics:   met,
		Log:       log,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}

	deps.Pool.Start(context.Background())
	t.Cleanup(deps.Pool.Stop)

	h.m = NewMachine(cfg, deps)
	return h
}

func startEv(uid int64) Event  { return Event{Kind: EventStart, UserID: uid, ChatID: uid} }
func cancelEv(uid int64) Event { return Event{Kind: EventCancel, UserID: uid, ChatID: uid} }
func textEv(uid int64, text string) Event {
	return Event{Kind: EventText, UserID: uid, ChatID: uid, Text: text}
}
func voiceEv(uid int64, fileID string) Event {
	return Event{Kind: EventVoice, UserID: uid, ChatID: uid, Audio: &AudioRef{FileID: fileID, Container: audio.ContainerWAV}}
}

// capture переводит пользователя в AwaitingText с профилем 150 Гц.
func (h *harness) capture(t *testing.T, uid int64) {
	t.Helper()
	h.source.Put("sample150", wavTone(t, 150, 16000, 1.5))
	h.m.Handle(context.Background(), startEv(uid))
	h.m.Handle(context.Background(), voiceEv(uid, "sample150"))
	s, ok := h.m.Session(uid)
	require.True(t, ok)
	require.Equal(t, AwaitingText, s.State)
}

func (h *harness) runs(t *testing.T, uid int64) []journal.Run {
	t.Helper()
	runs, err := h.journal.ListByUser(context.Background(), uid, 0)
	require.NoError(t, err)
	return runs
}
