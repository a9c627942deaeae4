// Package prioritizer models technical-debt remediation ordering as an
// immutable search node: which items are addressed, the running project
// metrics, and the terminal reward.
package prioritizer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/cespare/xxhash/v2"

	"tdprio/internal/domain"
)

const (
	// Epsilon guards the debt and remediation ratios in the reward.
	Epsilon = 0.01
	// CostWeight scales the cost term subtracted from quality.
	CostWeight = 0.7
	// MaxReliabilityRating is assigned once outstanding reliability effort is gone.
	MaxReliabilityRating = 5

	resetTolerance = 1e-9
)

var (
	ErrInvalidState    = errors.New("invalid state")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrDivisionByZero  = errors.New("division by zero")
)

// Node is a partial or complete remediation plan. The zero value is not
// usable; build nodes with New. A Node is never mutated after construction.
type Node struct {
	items    []domain.TechDebtItem
	metrics  domain.ProjectMetrics
	terminal bool
}

// New returns a node over items and metrics. Item ids must be unique and
// exactly one item must carry the anchor marker.
func New(items []domain.TechDebtItem, metrics domain.ProjectMetrics) (Node, error) {
	if len(items) == 0 {
		return Node{}, fmt.Errorf("%w: node needs at least one item", ErrInvalidState)
	}
	seen := make(map[int]struct{}, len(items))
	anchors := 0
	for _, td := range items {
		if _, dup := seen[td.ID]; dup {
			return Node{}, fmt.Errorf("%w: duplicate item id %d", ErrInvalidState, td.ID)
		}
		seen[td.ID] = struct{}{}
		if td.Last {
			anchors++
		}
	}
	if anchors != 1 {
		return Node{}, fmt.Errorf("%w: %d items marked last, want 1", ErrInvalidState, anchors)
	}
	own := slices.Clone(items)
	return Node{items: own, metrics: metrics, terminal: allAddressed(own)}, nil
}

func allAddressed(items []domain.TechDebtItem) bool {
	for _, td := range items {
		if !td.Addressed {
			return false
		}
	}
	return true
}

// Items returns a copy of the node's items.
func (n Node) Items() []domain.TechDebtItem { return slices.Clone(n.items) }

// Item returns the item at index i.
func (n Node) Item(i int) domain.TechDebtItem { return n.items[i] }

// Len is the number of items.
func (n Node) Len() int { return len(n.items) }

func (n Node) Metrics() domain.ProjectMetrics { return n.metrics }

// Terminal reports whether every item is addressed.
func (n Node) Terminal() bool { return n.terminal }

// Addressed counts the addressed items; it equals the node's depth below a root.
func (n Node) Addressed() int {
	c := 0
	for _, td := range n.items {
		if td.Addressed {
			c++
		}
	}
	return c
}

// Open returns the indices of unaddressed items in ascending order.
func (n Node) Open() []int {
	var idx []int
	for i, td := range n.items {
		if !td.Addressed {
			idx = append(idx, i)
		}
	}
	return idx
}

// Move addresses the item at index and returns the resulting node. Only
// that item's Addressed flag changes.
func (n Node) Move(index int) (Node, error) {
	if index < 0 || index >= len(n.items) {
		return Node{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(n.items))
	}
	if n.items[index].Addressed {
		return Node{}, fmt.Errorf("%w: item %d (id %d) already addressed", ErrIndexOutOfRange, index, n.items[index].ID)
	}
	items := slices.Clone(n.items)
	items[index].Addressed = true
	return Node{
		items:    items,
		metrics:  advance(n.metrics, n.items[index]),
		terminal: allAddressed(items),
	}, nil
}

// advance applies one item's declared contribution to the running metrics.
func advance(m domain.ProjectMetrics, td domain.TechDebtItem) domain.ProjectMetrics {
	delta := float64(td.LinesChanged)
	m.LinesOfCode += delta
	m.Lines += delta
	m.NewLines += math.Abs(delta)
	m.DebtMaintain -= td.DebtMaintain
	m.RemEffRel -= td.RemediationTime
	if math.Abs(m.RemEffRel) <= resetTolerance {
		m.RateReliable = MaxReliabilityRating
		m.Bugs = 0
	}
	return m
}

// Children returns one child per unaddressed item, in index order. A
// terminal node has none.
func (n Node) Children() []Node {
	if n.terminal {
		return nil
	}
	open := n.Open()
	out := make([]Node, 0, len(open))
	for _, i := range open {
		child, err := n.Move(i)
		if err != nil {
			panic(err) // unreachable: i comes from Open
		}
		out = append(out, child)
	}
	return out
}

// RandomChild addresses a uniformly chosen open item. It reports false on
// a terminal node.
func (n Node) RandomChild(rng *rand.Rand) (Node, bool) {
	if n.terminal {
		return Node{}, false
	}
	open := n.Open()
	child, err := n.Move(open[rng.IntN(len(open))])
	if err != nil {
		return Node{}, false
	}
	return child, true
}

// Anchor returns the index of the item marked last. It is fixed for the
// lifetime of a dataset.
func (n Node) Anchor() (int, bool) {
	for i, td := range n.items {
		if td.Last {
			return i, true
		}
	}
	return -1, false
}

// Reward scores a finished plan. It fails with ErrInvalidState on a
// non-terminal node and ErrDivisionByZero when total spend or total lines
// is zero.
func (n Node) Reward() (float64, error) {
	if !n.terminal {
		return 0, fmt.Errorf("%w: reward on non-terminal node (%d/%d addressed)", ErrInvalidState, n.Addressed(), len(n.items))
	}
	ai, ok := n.Anchor()
	if !ok {
		return 0, fmt.Errorf("%w: terminal node has no anchor item", ErrInvalidState)
	}
	anchor := n.items[ai]
	st := n.metrics

	var overall float64
	for _, td := range n.items {
		overall += td.Spend
	}
	if overall == 0 {
		return 0, fmt.Errorf("%w: total spend is zero", ErrDivisionByZero)
	}
	if st.Lines == 0 {
		return 0, fmt.Errorf("%w: project has zero lines", ErrDivisionByZero)
	}
	count := float64(len(n.items))

	cost := anchor.Spend/overall + float64(anchor.LinesChanged)/st.Lines
	quality := (st.Statements+st.Functions+st.Classes+st.Files+st.Comments)/st.Lines +
		(count-st.Issues)/count +
		anchor.DebtMaintain/(anchor.DebtMaintain+st.DebtMaintain+Epsilon) +
		anchor.RemediationTime/(anchor.RemediationTime+st.RemEffRel+Epsilon)
	return quality - CostWeight*cost, nil
}

// Equal reports structural equality over items, metrics and terminal flag.
func (n Node) Equal(o Node) bool {
	return n.terminal == o.terminal && n.metrics == o.metrics && slices.Equal(n.items, o.items)
}

// Key is a canonical encoding of the node's full content. Nodes are Equal
// exactly when their keys match.
func (n Node) Key() string {
	return string(n.appendKey(make([]byte, 0, len(n.items)*49+domain.MetricsFieldCount*8+1)))
}

// Hash is a stable 64-bit digest of Key. Search trees bucket statistics by
// it and resolve collisions with Equal.
func (n Node) Hash() uint64 {
	return xxhash.Sum64(n.appendKey(nil))
}

func (n Node) appendKey(b []byte) []byte {
	for _, td := range n.items {
		var flags byte
		if td.Addressed {
			flags |= 1
		}
		if td.Last {
			flags |= 2
		}
		b = append(b, flags)
		b = appendFloat(b, td.Spend)
		b = appendFloat(b, td.Defined)
		b = binary.BigEndian.AppendUint64(b, uint64(int64(td.LinesChanged)))
		b = appendFloat(b, td.DebtMaintain)
		b = appendFloat(b, td.RemediationTime)
		b = binary.BigEndian.AppendUint64(b, uint64(int64(td.ID)))
	}
	for _, v := range n.metrics.Values() {
		b = appendFloat(b, v)
	}
	if n.terminal {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendFloat(b []byte, v float64) []byte {
	// +0 and -0 compare equal, so they must encode the same.
	if v == 0 {
		v = 0
	}
	return binary.BigEndian.AppendUint64(b, math.Float64bits(v))
}

func (n Node) String() string {
	marks := make([]byte, len(n.items))
	for i, td := range n.items {
		marks[i] = 'O'
		if td.Addressed {
			marks[i] = 'X'
		}
	}
	return fmt.Sprintf("Node[%s terminal=%t]", marks, n.terminal)
}
