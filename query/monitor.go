package query

import (
	"github.com/poiesic/tenantrag/core"
)

// Monitor provides hooks to observe a query.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(tenant core.TenantID, question string)
	AfterSearch(hits []core.Hit)
	Dropped(hit core.Hit, reason string)
	AfterRanking(sources []core.Source)
	Finish(answer *core.Answer)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.TenantID, _ string) {}
func (n *noopMonitor) AfterSearch(_ []core.Hit)        {}
func (n *noopMonitor) Dropped(_ core.Hit, _ string)    {}
func (n *noopMonitor) AfterRanking(_ []core.Source)    {}
func (n *noopMonitor) Finish(_ *core.Answer)           {}
