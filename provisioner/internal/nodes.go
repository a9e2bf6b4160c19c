package internal

import (
	"fmt"
	"sort"
	"time"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/samber/lo"
)

// Tags put on every backend resource, so that a block can be found again
// after a restart.
const (
	SiteTag  = "blockpool-site"
	BlockTag = "blockpool-block"
	NodeTag  = "blockpool-node"
)

func Tags(site, block string) map[string]string {
	return map[string]string{
		SiteTag:  site,
		BlockTag: block,
	}
}

// NodeName names the i-th node (0-based) of a block.
func NodeName(block string, i int) string {
	return fmt.Sprintf("%s-%d", block, i)
}

// Node is one resource of a multi-node block.
type Node struct {
	// ID of the block the node belongs to, the block name when empty.
	ID           string
	Block        string
	NativeStatus string
	CreatedAt    time.Time
}

// Collapse reduces the native statuses of the nodes of a block to one: the
// first of precedence found among states wins, otherwise the first state.
func Collapse(states []string, precedence []string) string {
	if len(states) == 0 {
		return ""
	}
	for _, candidate := range precedence {
		if lo.Contains(states, candidate) {
			return candidate
		}
	}
	return states[0]
}

// Group folds nodes into one instance per block, ordered by name.
func Group(nodes []Node, precedence []string) []lifecycle.Instance {
	byBlock := lo.GroupBy(nodes, func(node Node) string {
		return lo.Ternary(node.ID != "", node.ID, node.Block)
	})

	instances := make([]lifecycle.Instance, 0, len(byBlock))
	for id, nodes := range byBlock {
		instances = append(instances, lifecycle.Instance{
			ID:   id,
			Name: nodes[0].Block,
			NativeStatus: Collapse(lo.Map(nodes, func(node Node, _ int) string {
				return node.NativeStatus
			}), precedence),
			Nodes: len(nodes),
			CreatedAt: lo.MinBy(nodes, func(a, b Node) bool {
				return a.CreatedAt.Before(b.CreatedAt)
			}).CreatedAt,
		})
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Name < instances[j].Name
	})
	return instances
}
