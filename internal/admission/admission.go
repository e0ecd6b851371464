// Package admission tracks subjects with an in-flight generation and rejects
// concurrent requests from the same subject.
package admission

import (
	"sync"

	"github.com/harmonia-ai/muse/pkg/metrics"
)

// Controller is a concurrency-safe set of admitted subject IDs. A subject is
// present for the duration of exactly one generation; a rejected admission
// means the caller must decline the request, not queue it.
type Controller struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{active: map[string]struct{}{}}
}

// TryAdmit admits the subject unless it already has a generation in flight.
func (c *Controller) TryAdmit(subjectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[subjectID]; busy {
		metrics.AdmissionRejections.Inc()
		return false
	}
	c.active[subjectID] = struct{}{}
	metrics.ActiveGenerations.Set(float64(len(c.active)))
	return true
}

// Release removes the subject. Releasing an unadmitted subject is a no-op.
func (c *Controller) Release(subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, subjectID)
	metrics.ActiveGenerations.Set(float64(len(c.active)))
}

// Active reports whether the subject currently holds an admission.
func (c *Controller) Active(subjectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.active[subjectID]
	return busy
}

// Count returns the number of admitted subjects.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
