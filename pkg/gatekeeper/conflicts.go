package gatekeeper

import (
	"context"
	"fmt"

	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// ConflictClass is the severity of a file conflict between two impacts on
// the same target path.
type ConflictClass string

const (
	ConflictNone     ConflictClass = "none"
	ConflictWarn     ConflictClass = "warn"
	ConflictBlocking ConflictClass = "blocking"
)

// Conflict describes one colliding pair of impacts from two different
// tasks on the same target path.
type Conflict struct {
	TargetPath string
	TaskA      string
	OpA        types.ImpactOperation
	TaskB      string
	OpB        types.ImpactOperation
	Class      ConflictClass
}

// conflictMatrix classifies every (opA, opB) pair. Two READs never
// conflict. A READ alongside any write (CREATE/UPDATE) is only a warn:
// the reader might see a partial write, but nothing is lost. A READ
// against a DELETE blocks, since the reader can end up targeting a path
// that no longer exists. Any pairing of two writes, or a write with a
// DELETE, is blocking.
var conflictMatrix = map[[2]types.ImpactOperation]ConflictClass{
	{types.OpRead, types.OpRead}:     ConflictNone,
	{types.OpRead, types.OpCreate}:   ConflictWarn,
	{types.OpRead, types.OpUpdate}:   ConflictWarn,
	{types.OpRead, types.OpDelete}:   ConflictBlocking,
	{types.OpCreate, types.OpCreate}: ConflictBlocking,
	{types.OpCreate, types.OpUpdate}: ConflictBlocking,
	{types.OpCreate, types.OpDelete}: ConflictBlocking,
	{types.OpUpdate, types.OpUpdate}: ConflictBlocking,
	{types.OpUpdate, types.OpDelete}: ConflictBlocking,
	{types.OpDelete, types.OpDelete}: ConflictBlocking,
}

func classify(a, b types.ImpactOperation) ConflictClass {
	if c, ok := conflictMatrix[[2]types.ImpactOperation{a, b}]; ok {
		return c
	}
	if c, ok := conflictMatrix[[2]types.ImpactOperation{b, a}]; ok {
		return c
	}
	return ConflictNone
}

// ConflictDetails returns every conflicting impact pair between taskA and
// taskB, including warn-level ones. Only impacts of the same kind on the
// same target path are compared, and pairs classified as no conflict
// (READ/READ) are left out, so an empty result does not mean the two tasks
// share no target path.
func (g *Gatekeeper) ConflictDetails(ctx context.Context, taskA, taskB string) ([]Conflict, error) {
	implA, err := g.store.ListImpactsByTask(ctx, taskA)
	if err != nil {
		return nil, fmt.Errorf("list impacts for %s: %w", taskA, err)
	}
	implB, err := g.store.ListImpactsByTask(ctx, taskB)
	if err != nil {
		return nil, fmt.Errorf("list impacts for %s: %w", taskB, err)
	}

	var conflicts []Conflict
	for _, ia := range implA {
		for _, ib := range implB {
			if ib.Kind != ia.Kind || ib.TargetPath != ia.TargetPath {
				continue
			}
			class := classify(ia.Operation, ib.Operation)
			if class == ConflictNone {
				continue
			}
			conflicts = append(conflicts, Conflict{
				TargetPath: ia.TargetPath,
				TaskA:      taskA,
				OpA:        ia.Operation,
				TaskB:      taskB,
				OpB:        ib.Operation,
				Class:      class,
			})
		}
	}
	return conflicts, nil
}

// CanRunParallel reports whether taskA and taskB may execute in the same
// wave: true unless they share at least one blocking-class file conflict.
func (g *Gatekeeper) CanRunParallel(ctx context.Context, taskA, taskB string) (bool, error) {
	conflicts, err := g.ConflictDetails(ctx, taskA, taskB)
	if err != nil {
		return false, err
	}
	for _, c := range conflicts {
		if c.Class == ConflictBlocking {
			metrics.ConflictsDetectedTotal.Inc()
			return false, nil
		}
	}
	return true, nil
}

// ConflictingTasks filters candidates down to the ones that have a
// blocking-class conflict with taskID.
func (g *Gatekeeper) ConflictingTasks(ctx context.Context, taskID string, candidates []string) ([]string, error) {
	var blocked []string
	for _, c := range candidates {
		if c == taskID {
			continue
		}
		ok, err := g.CanRunParallel(ctx, taskID, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			blocked = append(blocked, c)
		}
	}
	return blocked, nil
}
