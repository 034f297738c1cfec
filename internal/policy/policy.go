// Package policy implements the retention policy provider (spec §4.7):
// a thread-safe, case-insensitive domain -> retention mode map consulted
// by the hot store at header-insert time and by the archive coordinator
// to interpret headers.
//
// Import Path: eventcore.dev/eventcore/internal/policy
package policy

import (
	"strings"
	"sync"

	"eventcore.dev/eventcore/internal/domain"
)

// Provider is the case-insensitive, concurrency-safe policy map (spec
// §5: "Retention policy provider: concurrent readers + concurrent
// mutators via a lock-free map keyed by case-folded domain"). sync.Map
// is this codebase's lock-free map primitive; RWMutex-guarded maps are
// used elsewhere in the teacher's tree, but a provider this hot-path and
// write-rare is exactly sync.Map's target case.
type Provider struct {
	modes   sync.Map // case-folded domain -> domain.RetentionMode
	fallback domain.RetentionMode
}

// NewProvider returns a Provider whose default retention mode for
// domains with no explicit entry is fallback (typically
// RetentionColdArchivable per spec §4.7).
func NewProvider(fallback domain.RetentionMode) *Provider {
	if fallback == "" {
		fallback = domain.RetentionColdArchivable
	}
	return &Provider{fallback: fallback}
}

// GetPolicy returns the configured retention mode for domainName,
// case-insensitively, or the provider's default if unset.
func (p *Provider) GetPolicy(domainName string) domain.RetentionMode {
	if v, ok := p.modes.Load(foldKey(domainName)); ok {
		return v.(domain.RetentionMode)
	}
	return p.fallback
}

// SetPolicy sets (or overwrites) the retention mode for domainName.
// Safe for concurrent use alongside GetPolicy and other SetPolicy calls.
func (p *Provider) SetPolicy(domainName string, mode domain.RetentionMode) {
	p.modes.Store(foldKey(domainName), mode)
}

// RemovePolicy reverts domainName to the provider's default.
func (p *Provider) RemovePolicy(domainName string) {
	p.modes.Delete(foldKey(domainName))
}

func foldKey(domainName string) string {
	return strings.ToLower(domainName)
}
