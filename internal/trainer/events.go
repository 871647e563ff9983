package trainer

import (
	"github.com/lexiqai/radio-trainer/internal/stt"
)

var routedEvents = []stt.EventType{
	stt.EventConnectionStateChange,
	stt.EventTranscriptInterim,
	stt.EventTranscriptCommitted,
	stt.EventTranscriptFinal,
	stt.EventWordTiming,
	stt.EventError,
	stt.EventTimeout,
}

// wire routes the adapter's events into the session for as long as att is
// the current attempt. Handlers stay registered until the adapter is
// disposed.
func (o *Orchestrator) wire(att *attempt, provider string, ad Adapter) {
	for _, t := range routedEvents {
		ad.On(t, func(e stt.Event) { o.onEvent(att, provider, ad, e) })
	}
}

func (o *Orchestrator) onEvent(att *attempt, provider string, ad Adapter, e stt.Event) {
	o.mu.Lock()
	if o.attempt != att || att.done {
		o.mu.Unlock()
		return
	}
	r := o.state.results[provider]
	if r == nil || r.Status == stt.StatusCompleted {
		o.mu.Unlock()
		return
	}

	lateConnect := false
	switch e.Type {
	case stt.EventConnectionStateChange:
		r.Connection = e.State
		switch e.State {
		case stt.StateConnected:
			delete(att.timedOut, provider)
			lateConnect = att.stopped
			if !r.Status.Terminal() {
				r.Status = stt.StatusListening
				if att.stopped {
					r.Status = stt.StatusProcessing
				}
			}
		case stt.StateReconnecting:
			delete(att.ended, provider)
			if !r.Status.Terminal() {
				r.Status = stt.StatusConnecting
			}
		case stt.StateError:
			if !r.Status.Terminal() {
				r.Status = stt.StatusError
				if att.timedOut[provider] {
					r.Status = stt.StatusTimeout
				}
			}
		}

	case stt.EventTranscriptInterim, stt.EventTranscriptCommitted:
		r.Transcript = ad.Transcript()

	case stt.EventWordTiming:
		if e.Word != nil {
			r.Words = append(r.Words, *e.Word)
		}
		r.LiveFillerCount = e.FillerCount

	case stt.EventTranscriptFinal:
		r.Transcript = ad.Transcript()
		r.Transcript.Final = e.Text
		r.Transcript.IsFinal = true
		if words := ad.Words(); len(words) > len(r.Words) {
			r.Words = words
		}
		o.scoreLocked(att, provider, r)

	case stt.EventError:
		r.Errors = append(r.Errors, errorText(e.Err))
		if e.Fatal && !r.Status.Terminal() {
			r.Status = stt.StatusError
		}

	case stt.EventTimeout:
		// The adapter may still reconnect; only StateError makes it final.
		r.Errors = append(r.Errors, errorText(e.Err))
		att.timedOut[provider] = true
	}

	ready := o.readyLocked()
	o.bumpLocked()
	o.mu.Unlock()

	if ready {
		o.finish(att, "all_providers_done")
		return
	}
	if lateConnect {
		go o.endProvider(att, provider, ad)
	}
}
