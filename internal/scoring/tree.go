// Package scoring holds the validated, read-only scoring tree of one model version.
package scoring

import (
	"fmt"
	"sort"

	"value-calculation-service/internal/models"
	apperrors "value-calculation-service/pkg/errors"
)

// Tree is an arena of nodes keyed by id. Parents are referenced by id.
type Tree struct {
	versionID uint
	nodes     map[uint]*models.ScoringNode
	byCode    map[string]uint
	children  map[uint][]uint
	roots     []uint
	postOrder []uint
}

// Build validates nodes once and returns the tree. It rejects mixed
// versions, dangling parents, cycles, sequences placed under dimensions,
// leaves without weight and leaves with children.
func Build(versionID uint, nodes []models.ScoringNode) (*Tree, error) {
	t := &Tree{
		versionID: versionID,
		nodes:     make(map[uint]*models.ScoringNode, len(nodes)),
		byCode:    make(map[string]uint, len(nodes)),
		children:  make(map[uint][]uint),
	}

	for i := range nodes {
		n := &nodes[i]
		if n.VersionID != versionID {
			return nil, invalid("node %s belongs to version %d, expected %d", n.Code, n.VersionID, versionID)
		}
		if _, dup := t.nodes[n.ID]; dup {
			return nil, invalid("duplicate node id %d", n.ID)
		}
		if _, dup := t.byCode[n.Code]; dup {
			return nil, invalid("duplicate node code %s", n.Code)
		}
		if n.NodeType != models.NodeSequence && n.NodeType != models.NodeDimension {
			return nil, invalid("node %s has unknown type %q", n.Code, n.NodeType)
		}
		t.nodes[n.ID] = n
		t.byCode[n.Code] = n.ID
	}

	for _, n := range t.nodes {
		if n.ParentID == nil {
			t.roots = append(t.roots, n.ID)
			continue
		}
		parent, ok := t.nodes[*n.ParentID]
		if !ok {
			return nil, invalid("node %s references missing parent %d", n.Code, *n.ParentID)
		}
		if n.NodeType == models.NodeSequence && parent.NodeType != models.NodeSequence {
			return nil, invalid("sequence node %s sits under dimension %s", n.Code, parent.Code)
		}
		t.children[parent.ID] = append(t.children[parent.ID], n.ID)
	}

	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}

	for id, n := range t.nodes {
		kids := t.children[id]
		t.sortIDs(kids)
		if n.IsLeaf {
			if len(kids) > 0 {
				return nil, invalid("leaf node %s has %d children", n.Code, len(kids))
			}
			if n.NodeType != models.NodeDimension {
				return nil, invalid("leaf node %s must be a dimension", n.Code)
			}
			if !n.Weight.Valid {
				return nil, invalid("leaf node %s has no weight", n.Code)
			}
		}
	}
	t.sortIDs(t.roots)
	t.postOrder = t.walkPostOrder()
	return t, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrTreeInvalid, fmt.Sprintf(format, args...))
}

// checkAcyclic follows each parent chain, marking nodes already proven to
// reach a root.
func (t *Tree) checkAcyclic() error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[uint]int, len(t.nodes))
	for id := range t.nodes {
		path := []uint{}
		cur := id
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == inProgress {
				return invalid("cycle through node %s", t.nodes[cur].Code)
			}
			state[cur] = inProgress
			path = append(path, cur)
			p := t.nodes[cur].ParentID
			if p == nil {
				break
			}
			cur = *p
		}
		for _, v := range path {
			state[v] = done
		}
	}
	return nil
}

func (t *Tree) sortIDs(ids []uint) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.nodes[ids[i]], t.nodes[ids[j]]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}

func (t *Tree) walkPostOrder() []uint {
	out := make([]uint, 0, len(t.nodes))
	var visit func(id uint)
	visit = func(id uint) {
		for _, c := range t.children[id] {
			visit(c)
		}
		out = append(out, id)
	}
	for _, r := range t.roots {
		visit(r)
	}
	return out
}

func (t *Tree) VersionID() uint { return t.versionID }

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Node(id uint) (*models.ScoringNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Tree) ByCode(code string) (*models.ScoringNode, bool) {
	id, ok := t.byCode[code]
	if !ok {
		return nil, false
	}
	return t.nodes[id], true
}

// Roots returns the parentless nodes in sort order.
func (t *Tree) Roots() []uint { return append([]uint(nil), t.roots...) }

// Children returns the direct children of id in sort order.
func (t *Tree) Children(id uint) []uint { return append([]uint(nil), t.children[id]...) }

// Leaves returns leaf nodes in post order.
func (t *Tree) Leaves() []*models.ScoringNode {
	var out []*models.ScoringNode
	for _, id := range t.postOrder {
		if n := t.nodes[id]; n.IsLeaf {
			out = append(out, n)
		}
	}
	return out
}

// PostOrder lists every node id with children before their parent.
func (t *Tree) PostOrder() []uint { return append([]uint(nil), t.postOrder...) }

// SequenceOf returns the nearest sequence ancestor of id (or id itself).
func (t *Tree) SequenceOf(id uint) (uint, bool) {
	cur, ok := t.nodes[id]
	for ok {
		if cur.NodeType == models.NodeSequence {
			return cur.ID, true
		}
		if cur.ParentID == nil {
			return 0, false
		}
		cur, ok = t.nodes[*cur.ParentID]
	}
	return 0, false
}

// IsRootDimension reports whether id is a dimension whose parent is a
// sequence or that has no parent at all.
func (t *Tree) IsRootDimension(id uint) bool {
	n, ok := t.nodes[id]
	if !ok || n.NodeType != models.NodeDimension {
		return false
	}
	if n.ParentID == nil {
		return true
	}
	return t.nodes[*n.ParentID].NodeType == models.NodeSequence
}
