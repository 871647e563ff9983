package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/radio-trainer/internal/audio"
	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/stt"
	"github.com/lexiqai/radio-trainer/internal/token"
)

// ErrAborted is returned by StartRecording when the attempt was disposed
// (navigation, a new bank, Close) before it started listening.
var ErrAborted = errors.New("trainer: recording aborted")

// levelStep is the smallest input level change worth publishing
const levelStep = 0.05

// StartRecording opens the microphone, fetches a token per provider, connects
// every adapter that got one and starts streaming audio. Only a microphone
// failure fails the call; token and connect failures are recorded on the
// provider's result.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.bank == nil:
		o.mu.Unlock()
		return ErrNoBank
	case o.attempt != nil && !o.attempt.done:
		o.mu.Unlock()
		return ErrRecordingInProgress
	}
	q, ok := o.bank.Question(o.state.questionIndex)
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidQuestion, o.state.questionIndex)
	}

	att := newAttempt(uuid.NewString(), q, o.opts, o.log)
	o.attempt = att
	sessionID := o.state.id
	o.state.attemptID = att.id
	o.state.lastError = ""
	o.state.resetResults(o.opts.Providers)
	o.bumpLocked()
	o.mu.Unlock()

	att.log.Info().Str("question", q.ID).Msg("starting recording")

	stream, err := o.deps.Microphone.Open(ctx, o.opts.Constraints)
	if err != nil {
		o.mu.Lock()
		if o.attempt == att {
			att.done = true
			o.attempt = nil
			o.state.attemptID = ""
			o.state.lastError = err.Error()
			o.bumpLocked()
		}
		o.mu.Unlock()
		att.log.Error().Err(err).Msg("microphone unavailable")
		observability.RecordError("microphone", "trainer")
		return fmt.Errorf("open microphone: %w", err)
	}
	if !att.setStream(stream) {
		_ = stream.Close()
		return ErrAborted
	}

	o.mu.Lock()
	if o.attempt != att || att.done {
		o.mu.Unlock()
		att.releaseMic()
		return ErrAborted
	}
	o.state.recording = RecordingListening
	for _, r := range o.state.results {
		r.Status = stt.StatusConnecting
		r.Connection = stt.StateConnecting
	}
	att.maxTimer = time.AfterFunc(o.opts.MaxRecording, func() { o.stopAttempt(att, "max_duration") })
	o.bumpLocked()
	o.mu.Unlock()
	att.metrics.RecordStart()

	tokens := token.FetchAll(ctx, o.deps.Tokens, sessionID, o.opts.Providers...)

	var g errgroup.Group
	for _, p := range o.opts.Providers {
		res := tokens[p]
		if res.Err != nil {
			o.providerFailed(att, p, "token", res.Err)
			continue
		}
		ad, err := o.newAdapter(att, p, res.Token)
		if err != nil {
			o.providerFailed(att, p, "adapter", err)
			continue
		}
		if ad == nil {
			continue
		}
		g.Go(func() error {
			o.connect(ctx, att, p, ad)
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	if o.attempt != att || att.done || att.stopped {
		o.mu.Unlock()
		return nil
	}
	att.pumping = true
	o.mu.Unlock()

	go o.pump(att, stream)
	return nil
}

// newAdapter builds, configures and wires the adapter for provider. It
// returns nil without error when the attempt moved on meanwhile.
func (o *Orchestrator) newAdapter(att *attempt, provider string, tok token.Token) (Adapter, error) {
	ad, err := o.deps.NewAdapter(provider, o.opts.STT)
	if err != nil {
		return nil, err
	}
	ad.Configure(stt.Config{URL: tok.WebsocketURL, Token: tok.Token})
	o.wire(att, provider, ad)

	o.mu.Lock()
	switch {
	case o.attempt != att || att.done:
		o.mu.Unlock()
		ad.Dispose()
		return nil, nil
	case att.stopped:
		o.mu.Unlock()
		ad.Dispose()
		return nil, errors.New("recording stopped before the provider connected")
	}
	att.adapters[provider] = ad
	o.mu.Unlock()
	return ad, nil
}

func (o *Orchestrator) connect(ctx context.Context, att *attempt, provider string, ad Adapter) {
	if err := ad.Connect(ctx); err != nil {
		o.providerFailed(att, provider, "connect", err)
		return
	}

	o.endProvider(att, provider, ad)
}

// endProvider sends end of audio to a connected adapter once per connection,
// and only after the chunker tail went out.
func (o *Orchestrator) endProvider(att *attempt, provider string, ad Adapter) {
	if ad.State() != stt.StateConnected {
		return
	}
	o.mu.Lock()
	if o.attempt != att || att.done || !att.drained || att.ended[provider] {
		o.mu.Unlock()
		return
	}
	att.ended[provider] = true
	o.mu.Unlock()

	if err := ad.EndAudio(); err != nil {
		att.log.Warn().Err(err).Str("provider", provider).Msg("end of audio failed")
	}
}

// providerFailed records a provider-scoped failure without touching the
// other providers.
func (o *Orchestrator) providerFailed(att *attempt, provider, stage string, err error) {
	att.log.Warn().Err(err).Str("provider", provider).Str("stage", stage).Msg("provider unavailable for this attempt")
	att.metrics.RecordError(stage, provider)

	o.mu.Lock()
	if o.attempt != att || att.done {
		o.mu.Unlock()
		return
	}
	r := o.state.results[provider]
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", stage, err))
	if !r.Status.Terminal() {
		r.Status = stt.StatusError
	}
	ready := o.readyLocked()
	o.bumpLocked()
	o.mu.Unlock()

	if ready {
		o.finish(att, "all_providers_done")
	}
}

func (o *Orchestrator) pump(att *attempt, stream audio.Stream) {
	defer close(att.pumpDone)

	frames := stream.Frames()
	for {
		select {
		case <-att.stopCh:
			return
		case f, ok := <-frames:
			if !ok {
				o.stopAttempt(att, "source_ended")
				return
			}
			rate := f.SampleRate
			if rate <= 0 {
				rate = stream.SampleRate()
			}
			o.processFrame(att, f.Samples, rate)
		}
	}
}

func (o *Orchestrator) processFrame(att *attempt, samples []int16, rate int) {
	att.addCaptured(len(samples), rate)

	speaking, _, _ := att.vad.ProcessFrame(samples)
	o.updateInput(att, speaking, audio.Level(samples))

	for _, chunk := range att.chunker.Push(samples, rate) {
		o.fanOut(att, chunk)
	}
}

// fanOut sends one chunk to every connected adapter and waits for all of
// them, so each adapter sees chunks in capture order.
func (o *Orchestrator) fanOut(att *attempt, chunk []byte) {
	o.mu.Lock()
	adapters := att.adapterList()
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, ad := range adapters {
		if ad.State() != stt.StateConnected {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ad.SendAudio(chunk); err != nil {
				att.log.Warn().Err(err).Str("provider", ad.Name()).Msg("dropping audio chunk")
				att.metrics.RecordError("send_audio", ad.Name())
				return
			}
			att.metrics.RecordAudioBytes(ad.Name(), len(chunk))
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) updateInput(att *attempt, speaking bool, level float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt != att || att.stopped || att.done {
		return
	}
	if speaking == o.state.speaking && math.Abs(level-o.state.inputLevel) < levelStep {
		return
	}
	o.state.speaking = speaking
	o.state.inputLevel = level
	o.bumpLocked()
}

// StopRecording ends capture: the microphone is released before this call
// returns, then every connected adapter is told the audio ended and the
// finalization deadline starts. Calling it when not listening is a no-op.
func (o *Orchestrator) StopRecording() error {
	o.mu.Lock()
	att := o.attempt
	listening := att != nil && o.state.recording == RecordingListening
	o.mu.Unlock()

	if listening {
		o.stopAttempt(att, "user")
	}
	return nil
}

func (o *Orchestrator) stopAttempt(att *attempt, reason string) {
	o.mu.Lock()
	if o.attempt != att || att.stopped || att.done {
		o.mu.Unlock()
		return
	}
	att.stopped = true
	if att.maxTimer != nil {
		att.maxTimer.Stop()
	}
	o.state.recording = RecordingProcessing
	o.state.speaking = false
	o.state.inputLevel = 0
	for _, r := range o.state.results {
		if r.Status == stt.StatusListening {
			r.Status = stt.StatusProcessing
		}
	}
	att.finalTimer = time.AfterFunc(o.opts.FinalizationTimeout, func() { o.finish(att, "finalization_timeout") })
	ready := o.readyLocked()
	o.bumpLocked()
	o.mu.Unlock()

	att.releaseMic()
	att.signalStop()
	att.log.Info().Str("reason", reason).Int64("captured_ms", att.durationMs()).Msg("recording stopped")

	if ready {
		o.finish(att, "all_providers_done")
		return
	}
	go o.endAudio(att)
}

// endAudio flushes the chunker tail after the pump has exited and signals
// end of audio to every adapter that is still connected.
func (o *Orchestrator) endAudio(att *attempt) {
	o.mu.Lock()
	pumping := att.pumping
	o.mu.Unlock()
	if pumping {
		<-att.pumpDone
	}

	if tail := att.chunker.Flush(); tail != nil {
		o.fanOut(att, tail)
	}

	o.mu.Lock()
	if att.done {
		o.mu.Unlock()
		return
	}
	att.drained = true
	adapters := make(map[string]Adapter, len(att.adapters))
	for p, ad := range att.adapters {
		adapters[p] = ad
	}
	o.mu.Unlock()

	for _, p := range att.providers {
		if ad, ok := adapters[p]; ok {
			o.endProvider(att, p, ad)
		}
	}
}

// readyLocked reports whether the attempt is finalizing and every provider
// reached a terminal status.
func (o *Orchestrator) readyLocked() bool {
	if o.state.recording != RecordingProcessing {
		return false
	}
	for _, r := range o.state.results {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}

// finish completes the attempt: providers without a final transcript are
// force-finalized from whatever text they have, the recording moves to
// completed and every adapter is disposed. Only the first call has effect.
func (o *Orchestrator) finish(att *attempt, reason string) {
	o.mu.Lock()
	if o.attempt != att || att.done {
		o.mu.Unlock()
		return
	}
	att.done = true
	att.stopTimers()

	for _, p := range o.opts.Providers {
		r := o.state.results[p]
		if r.Status == stt.StatusCompleted {
			continue
		}
		if ad, ok := att.adapters[p]; ok && !r.Transcript.IsFinal {
			r.Transcript = ad.Transcript()
			if words := ad.Words(); len(words) > len(r.Words) {
				r.Words = words
			}
		}

		switch text := r.Text(); {
		case r.Transcript.IsFinal:
			o.scoreLocked(att, p, r)
		case text != "":
			r.Transcript.Final = text
			r.Transcript.IsFinal = true
			o.scoreLocked(att, p, r)
		case !r.Status.Terminal():
			r.Status = stt.StatusTimeout
			r.Errors = append(r.Errors, "no transcript before the finalization deadline")
		}
	}

	o.state.recording = RecordingCompleted
	o.state.speaking = false
	o.state.inputLevel = 0
	outcomes := make(map[string]ProviderResult, len(o.state.results))
	for p, r := range o.state.results {
		outcomes[p] = r.clone()
	}
	adapters := att.adapterList()
	o.bumpLocked()
	o.mu.Unlock()

	att.releaseMic()
	att.signalStop()
	for p, r := range outcomes {
		var overall *int
		if r.Metrics != nil {
			overall = &r.Metrics.Overall
		}
		att.metrics.RecordProviderResult(p, string(r.Status), overall)
	}
	att.metrics.RecordEnd()
	for _, ad := range adapters {
		ad.Dispose()
	}
	att.log.Info().Str("reason", reason).Msg("recording completed")
}

// abortAttempt tears the current attempt down without finalizing it and
// waits for its pump to exit.
func (o *Orchestrator) abortAttempt() {
	o.mu.Lock()
	att := o.attempt
	if att == nil {
		o.mu.Unlock()
		return
	}
	o.attempt = nil
	wasDone := att.done
	att.done = true
	att.stopped = true
	att.stopTimers()
	pumping := att.pumping
	adapters := att.adapterList()
	o.mu.Unlock()

	att.releaseMic()
	att.signalStop()
	if !wasDone {
		att.metrics.RecordEnd()
		att.log.Info().Msg("recording aborted")
	}
	for _, ad := range adapters {
		ad.Dispose()
	}
	if pumping {
		<-att.pumpDone
	}
}
