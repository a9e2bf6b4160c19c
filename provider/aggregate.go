package provider

import (
	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
)

// severity orders terminal statuses, most severe first.
var severity = []status.Status{status.Failed, status.Timeout, status.Cancelled, status.Completed}

// Aggregate reduces the statuses of the blocks of a submission to one status:
// RUNNING if any block runs, else PENDING if any is pending, else the most
// severe terminal status.
func Aggregate(statuses []status.Status) status.Status {
	if len(statuses) == 0 {
		return status.Pending
	}
	if lo.Contains(statuses, status.Running) {
		return status.Running
	}
	if lo.Contains(statuses, status.Pending) {
		return status.Pending
	}
	for _, s := range severity {
		if lo.Contains(statuses, s) {
			return s
		}
	}
	return status.Failed
}

type Submission struct {
	Handle Handle        `json:"handle" yaml:"handle"`
	Status status.Status `json:"status" yaml:"status"`
	Blocks []state.Block `json:"blocks" yaml:"blocks"`
}

// Group gathers blocks by handle, keeping the order of their first block.
// Blocks without handle, such as adopted ones, are grouped under "".
func Group(blocks []state.Block) []Submission {
	var submissions []Submission
	index := map[Handle]int{}

	for _, block := range blocks {
		handle := Handle(block.Handle)
		i, ok := index[handle]
		if !ok {
			i = len(submissions)
			index[handle] = i
			submissions = append(submissions, Submission{Handle: handle})
		}
		submissions[i].Blocks = append(submissions[i].Blocks, block)
	}

	for i := range submissions {
		submissions[i].Status = Aggregate(lo.Map(submissions[i].Blocks, func(block state.Block, _ int) status.Status {
			return block.Status
		}))
	}
	return submissions
}
