// Package groupby partitions test cases into labeled categories for presentation.
package groupby

import (
	"fmt"
	"sort"
	"sync"

	"mte/internal/domain"
)

// Type identifies a grouping strategy
type Type string

const (
	TypeDuration Type = "duration"
	TypeStatus   Type = "status"
	TypeFile     Type = "file"
)

// Label is a named category with the nodes that fall in it
type Label struct {
	Name   string
	Status domain.Status
	Nodes  []*domain.TestNode
}

// Strategy computes categories from a flat node set. Only test cases are categorised and
// categories without nodes are omitted.
type Strategy interface {
	Type() Type
	Name() string
	Description() string
	Categories(nodes []*domain.TestNode) []Label
}

func testCases(nodes []*domain.TestNode) []*domain.TestNode {
	var out []*domain.TestNode
	for _, n := range nodes {
		if n.IsTestCase {
			out = append(out, n)
		}
	}
	return out
}

func appendNonEmpty(labels []Label, label Label) []Label {
	if len(label.Nodes) == 0 {
		return labels
	}
	return append(labels, label)
}

// Duration groups by execution time with fixed thresholds
type Duration struct{}

func (Duration) Type() Type { return TypeDuration }
func (Duration) Name() string { return "Duration" }
func (Duration) Description() string {
	return "Groups test by execution time: Fast, Medium, and Slow."
}

const (
	fastThreshold = 100
	slowThreshold = 1000
)

func (Duration) Categories(nodes []*domain.TestNode) []Label {
	notRun := Label{Name: "Not Run Tests", Status: domain.StatusNone}
	fast := Label{Name: "Fast < 100ms", Status: domain.StatusNone}
	medium := Label{Name: "Medium >= 100ms", Status: domain.StatusNone}
	slow := Label{Name: "Slow > 1sec", Status: domain.StatusNone}

	for _, n := range testCases(nodes) {
		ms, ok := n.DurationMillis()
		switch {
		case !ok:
			notRun.Nodes = append(notRun.Nodes, n)
		case ms < fastThreshold:
			fast.Nodes = append(fast.Nodes, n)
		case ms <= slowThreshold:
			medium.Nodes = append(medium.Nodes, n)
		default:
			slow.Nodes = append(slow.Nodes, n)
		}
	}

	var labels []Label
	for _, l := range []Label{notRun, fast, medium, slow} {
		labels = appendNonEmpty(labels, l)
	}
	return labels
}

// Status groups by last outcome
type Status struct{}

func (Status) Type() Type { return TypeStatus }
func (Status) Name() string { return "Status" }
func (Status) Description() string { return "Groups test by outcome: Failed, Passed, Skipped, Not Found and Not Run." }

func (Status) Categories(nodes []*domain.TestNode) []Label {
	buckets := make(map[domain.Status][]*domain.TestNode)
	for _, n := range testCases(nodes) {
		buckets[n.Status] = append(buckets[n.Status], n)
	}

	var labels []Label
	for _, st := range domain.Statuses {
		labels = appendNonEmpty(labels, Label{Name: st.Label() + " Tests", Status: st, Nodes: buckets[st]})
	}
	return labels
}

// File groups by source file
type File struct{}

func (File) Type() Type { return TypeFile }
func (File) Name() string { return "File" }
func (File) Description() string { return "Groups test by the file that declares them." }

func (File) Categories(nodes []*domain.TestNode) []Label {
	buckets := make(map[string][]*domain.TestNode)
	for _, n := range testCases(nodes) {
		buckets[n.Path] = append(buckets[n.Path], n)
	}

	paths := make([]string, 0, len(buckets))
	for p := range buckets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	labels := make([]Label, 0, len(paths))
	for _, p := range paths {
		labels = append(labels, Label{Name: p, Status: worstStatus(buckets[p]), Nodes: buckets[p]})
	}
	return labels
}

// worstStatus picks the most severe status, in the order of domain.Statuses
func worstStatus(nodes []*domain.TestNode) domain.Status {
	rank := make(map[domain.Status]int, len(domain.Statuses))
	for i, st := range domain.Statuses {
		rank[st] = i
	}
	worst := domain.StatusNone
	for _, n := range nodes {
		if rank[n.Status] < rank[worst] {
			worst = n.Status
		}
	}
	return worst
}

// Provider keeps the registered strategies and the selected one
type Provider struct {
	mu         sync.RWMutex
	strategies []Strategy
	selected   Strategy
}

// NewProvider registers the built-in strategies, selecting Duration
func NewProvider() *Provider {
	p := &Provider{}
	p.Register(Duration{})
	p.Register(Status{})
	p.Register(File{})
	p.selected = p.strategies[0]
	return p
}

// Register adds a strategy, replacing any strategy of the same type
func (p *Provider) Register(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.strategies {
		if existing.Type() == s.Type() {
			p.strategies[i] = s
			return
		}
	}
	p.strategies = append(p.strategies, s)
}

// Strategies returns the registered strategies in registration order
func (p *Provider) Strategies() []Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Strategy(nil), p.strategies...)
}

// Select makes the strategy of type t the current one
func (p *Provider) Select(t Type) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.strategies {
		if s.Type() == t {
			p.selected = s
			return nil
		}
	}
	return fmt.Errorf("unknown group by strategy %q", t)
}

// Selected returns the current strategy
func (p *Provider) Selected() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selected
}

// Categories computes categories with the selected strategy
func (p *Provider) Categories(nodes []*domain.TestNode) []Label {
	return p.Selected().Categories(nodes)
}
