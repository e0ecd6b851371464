package backend

import (
	"github.com/harmonia-ai/muse/pkg/logger"
)

// Speech and music worker endpoints.
var (
	SpeechWorkerEndpoint = "wss://aria-speech.workers.harmonia.run/queue/join"
	MusicWorkerEndpoint  = "https://cadence-music.workers.harmonia.run"
)

// NewSpeechBackend builds the speech synthesis worker (duplex socket).
func NewSpeechBackend(log *logger.Logger) Backend {
	return &worker{
		name: "aria", kind: KindSpeech, fnIndex: 0,
		run: NewSocketClient(SpeechWorkerEndpoint, log),
		buildArgs: func(prompt string, digit int, p Params) []any {
			voice := p.Voice
			if voice == "" {
				voice = "en-US-Studio-O"
			}
			return []any{prompt, voice, 1.0, digit}
		},
	}
}

// NewMusicBackend builds the music synthesis worker (submit + event stream).
func NewMusicBackend(log *logger.Logger) Backend {
	return &worker{
		name: "cadence", kind: KindMusic, fnIndex: 4, triggerID: 11,
		run: NewStreamClient(MusicWorkerEndpoint, log),
		buildArgs: func(prompt string, digit int, p Params) []any {
			duration := p.Duration
			if duration <= 0 {
				duration = 15
			}
			return []any{prompt, duration, digit, "mp3"}
		},
	}
}

// NewDefaultRegistry wires every generation worker into one registry.
func NewDefaultRegistry(log *logger.Logger) *Registry {
	backends := NewImageBackends(log)
	backends = append(backends, NewSpeechBackend(log), NewMusicBackend(log))
	return NewRegistry(backends...)
}
