package search

import (
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/vectorstore"
)

// Monitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type Monitor interface {
	Start(agentID, query string)
	AfterVectorSearch(hits []vectorstore.Hit)
	AfterHydration(chunks []*core.Chunk)
	StaleHit(hit vectorstore.Hit)
	VerbatimHit(chunk *core.Chunk)
	Finish(results []*core.SearchResult, cacheHit bool)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                     {}
func (n *noopMonitor) AfterVectorSearch(_ []vectorstore.Hit) {}
func (n *noopMonitor) AfterHydration(_ []*core.Chunk)        {}
func (n *noopMonitor) StaleHit(_ vectorstore.Hit)            {}
func (n *noopMonitor) VerbatimHit(_ *core.Chunk)             {}
func (n *noopMonitor) Finish(_ []*core.SearchResult, _ bool) {}
