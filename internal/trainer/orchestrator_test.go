package trainer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/stt"
)

func TestNew_InitialSession(t *testing.T) {
	o := New(Dependencies{}, Options{})
	t.Cleanup(func() { _ = o.Close() })

	snap := o.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, NoChoice, snap.SelectedChoice)
	assert.Equal(t, RecordingIdle, snap.Recording)
	assert.Equal(t, []string{stt.ProviderOpenAI, stt.ProviderElevenLabs}, o.Providers())
	for _, p := range o.Providers() {
		assert.Equal(t, stt.StatusIdle, snap.Results[p].Status)
	}
	assert.Nil(t, o.Bank())
}

func TestLoadBank(t *testing.T) {
	o := New(Dependencies{}, Options{})
	t.Cleanup(func() { _ = o.Close() })

	assert.ErrorIs(t, o.LoadBank(&bank.QuestionBank{}), ErrInvalidQuestion)
	assert.ErrorIs(t, o.Navigate(0), ErrNoBank)
	assert.ErrorIs(t, o.SelectChoice(0), ErrNoBank)

	require.NoError(t, o.LoadBank(testBank()))
	assert.Equal(t, 0, o.Snapshot().QuestionIndex)
	assert.Equal(t, 2, o.Bank().Len())
}

func TestSelectChoiceAndNavigate(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.orch.SelectChoice(2))
	assert.Equal(t, 2, h.orch.Snapshot().SelectedChoice)

	assert.ErrorIs(t, h.orch.SelectChoice(4), ErrInvalidChoice)
	assert.ErrorIs(t, h.orch.SelectChoice(-2), ErrInvalidChoice)
	require.NoError(t, h.orch.SelectChoice(NoChoice))
	assert.Equal(t, NoChoice, h.orch.Snapshot().SelectedChoice)

	require.NoError(t, h.orch.SelectChoice(1))
	require.NoError(t, h.orch.Navigate(1))
	snap := h.orch.Snapshot()
	assert.Equal(t, 1, snap.QuestionIndex)
	assert.Equal(t, NoChoice, snap.SelectedChoice)

	assert.ErrorIs(t, h.orch.Navigate(2), ErrInvalidQuestion)
	assert.ErrorIs(t, h.orch.Navigate(-1), ErrInvalidQuestion)
}

func TestSnapshot_IsACopy(t *testing.T) {
	h := newHarness(t, Options{})
	snap := h.orch.Snapshot()
	r := snap.Results[stt.ProviderOpenAI]
	r.Errors = append(r.Errors, "mutated")
	snap.Results[stt.ProviderOpenAI] = r

	assert.Empty(t, h.orch.Snapshot().Results[stt.ProviderOpenAI].Errors)
}

func TestSubscribe_DeliversLatestState(t *testing.T) {
	h := newHarness(t, Options{})
	h.script(stt.ProviderOpenAI, script{onEnd: say("Roger", 300)})
	h.script(stt.ProviderElevenLabs, script{onEnd: say("Roger", 300)})

	var (
		mu   sync.Mutex
		seen []Session
	)
	unsubscribe := h.orch.Subscribe(func(s Session) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	h.orch.Subscribe(func(Session) { panic("bad subscriber") })

	require.NoError(t, h.orch.StartRecording(context.Background()))
	h.speak(t, 2)
	require.NoError(t, h.orch.StopRecording())
	h.waitRecording(t, RecordingCompleted)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1].Recording == RecordingCompleted
	}, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Version, seen[i-1].Version)
	}
}

func TestComputeScores(t *testing.T) {
	h := newHarness(t, Options{})
	h.script(stt.ProviderOpenAI, script{onEnd: say(taxiRequest+", over", 400)})
	h.script(stt.ProviderElevenLabs, script{onEnd: say("", 400)})

	_, err := h.orch.ComputeScores(stt.ProviderOpenAI)
	assert.ErrorIs(t, err, ErrNoTranscript)
	_, err = h.orch.ComputeScores("deepgram")
	assert.Error(t, err)

	require.NoError(t, h.orch.SelectChoice(0))
	require.NoError(t, h.orch.StartRecording(context.Background()))
	h.speak(t, 50)
	require.NoError(t, h.stream.PushStream.Close())
	snap := h.waitRecording(t, RecordingCompleted)

	m, err := h.orch.ComputeScores(stt.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, *snap.Results[stt.ProviderOpenAI].Metrics, m)
	assert.Equal(t, 100, m.Clarity)

	_, err = h.orch.ComputeScores(stt.ProviderElevenLabs)
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		SampleRate:              16000,
		ChunkSamples:            2048,
		VADEnergyThreshold:      400,
		VADSilenceFrames:        8,
		ConnectTimeoutMs:        5000,
		MaxRecordingMs:          20000,
		FinalizationTimeoutMs:   3000,
		OpenAICostPerMinute:     0.01,
		ElevenLabsCostPerMinute: 0.02,
		ReconnectMaxAttempts:    0,
		ReconnectBackoff:        500,
		ReconnectMaxBackoff:     4000,
		ReconnectJitter:         0.1,
		ElevenLabsLanguage:      "de",
	}
	opts := OptionsFromConfig(cfg)

	assert.Equal(t, 2048, opts.ChunkSamples)
	assert.Equal(t, 320, opts.VAD.FrameSize)
	assert.EqualValues(t, 20000, opts.MaxRecording.Milliseconds())
	assert.EqualValues(t, 3000, opts.FinalizationTimeout.Milliseconds())
	assert.Equal(t, 0.02, opts.CostPerMinute[stt.ProviderElevenLabs])
	assert.Equal(t, -1, opts.STT.MaxReconnectAttempts)
	assert.Equal(t, "de", opts.STT.Language)
	assert.EqualValues(t, 5000, opts.STT.ConnectTimeout.Milliseconds())
}

func TestDefaultAdapterFactory(t *testing.T) {
	for _, p := range []string{stt.ProviderOpenAI, stt.ProviderElevenLabs} {
		ad, err := DefaultAdapterFactory(p, stt.Config{})
		require.NoError(t, err)
		assert.Equal(t, p, ad.Name())
		ad.Dispose()
	}
	_, err := DefaultAdapterFactory("deepgram", stt.Config{})
	assert.Error(t, err)
}
