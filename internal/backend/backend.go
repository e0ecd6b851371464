// Package backend drives long-running generation jobs on remote queueing
// workers. Two wire protocols are supported: HTTP submit followed by a
// server-push event stream, and a full-duplex websocket session. Workers do
// not expose a synchronous call; every job is correlated to its result by a
// random session handle.
package backend

import (
	"context"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// Resolution names a fixed output size. Each backend maps these to its own
// width/height pair and, where the worker wants one, a named size string.
type Resolution string

const (
	Square   Resolution = "Square"
	Wide     Resolution = "Wide"
	Portrait Resolution = "Portrait"
)

// Params carries caller options for a generation.
type Params struct {
	Resolution Resolution
	Voice      string
	Duration   int
}

// Backend is the capability interface shared by all generation workers.
// Generate resolves with the result location (a URL or worker file path) or
// one of the package error types. Backends never retry internally; retry
// policy belongs to the delivery layer.
type Backend interface {
	Name() string
	Kind() string
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// Backend kinds.
const (
	KindImage  = "image"
	KindSpeech = "speech"
	KindMusic  = "music"
)

// Registry is a name-keyed collection of backends.
type Registry struct {
	byName map[string]Backend
	order  []string
}

// NewRegistry builds a registry from the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{byName: map[string]Backend{}}
	for _, b := range backends {
		r.byName[b.Name()] = b
		r.order = append(r.order, b.Name())
	}
	return r
}

// Get returns the backend with the given name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// Names returns backend names in registration order, optionally filtered
// by kind.
func (r *Registry) Names(kind string) []string {
	var out []string
	for _, name := range r.order {
		if kind == "" || r.byName[name].Kind() == kind {
			out = append(out, name)
		}
	}
	return out
}

// newSessionHash generates the random handle that binds a submission to its
// event stream.
func newSessionHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// correlationDigit returns the single-use random digit mixed into argument
// vectors that want per-request entropy.
func correlationDigit() int {
	return rand.Intn(10)
}
