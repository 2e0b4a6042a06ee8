// Package report implements the abuse-report workflow and the process-wide registry of
// filed submission identifiers
package report

import (
	"sync"

	"github.com/commjoen/urlsentry/pkg/models"
)

// Registry is a concurrency-safe set of submission identifiers together with the
// submission each identifier was issued for. Identifiers are never pruned.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	submissions map[string]*models.ReportSubmission
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		submissions: make(map[string]*models.ReportSubmission),
	}
}

// Track records a submission under its identifier. An already known identifier keeps
// its original record and Track returns false.
func (r *Registry) Track(sub models.ReportSubmission) bool {
	if sub.SubmissionID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.submissions[sub.SubmissionID]; ok {
		return false
	}
	r.submissions[sub.SubmissionID] = &sub
	r.order = append(r.order, sub.SubmissionID)
	return true
}

// Snapshot returns every registered identifier in insertion order
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered identifiers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Lookup returns a copy of the submission tracked for id
func (r *Registry) Lookup(id string) (models.ReportSubmission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.submissions[id]
	if !ok {
		return models.ReportSubmission{}, false
	}
	return copySubmission(sub), true
}

// Submissions returns copies of all tracked submissions in insertion order
func (r *Registry) Submissions() []models.ReportSubmission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ReportSubmission, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copySubmission(r.submissions[id]))
	}
	return out
}

// updateStatus stores the latest polled status for a known identifier
func (r *Registry) updateStatus(id string, status *models.SubmissionStatus) {
	if status == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.submissions[id]; ok {
		st := *status
		sub.Status = &st
	}
}

func copySubmission(sub *models.ReportSubmission) models.ReportSubmission {
	c := *sub
	if sub.Status != nil {
		st := *sub.Status
		c.Status = &st
	}
	return c
}
