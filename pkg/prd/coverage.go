// Package prd computes requirement coverage for a PRD from its link
// table, per the reporting rule: a success criterion is covered iff some
// task links to it directly, a constraint is covered iff some task links
// to it with link_type=tests.
package prd

import (
	"context"
	"fmt"

	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// Coverage is the computed result for one PRD.
type Coverage struct {
	PRDID                string
	TotalRequirements    int
	CoveredRequirements  int
	CoveragePercent      int
	UncoveredSuccess     []string
	UncoveredConstraints []string
}

// Calculate loads prdID and its links and computes Coverage. A PRD with
// zero success criteria and zero constraints is fully covered by
// definition.
func Calculate(ctx context.Context, store storage.Store, prdID string) (*Coverage, error) {
	p, err := store.GetPRD(ctx, prdID)
	if err != nil {
		return nil, fmt.Errorf("load PRD %s: %w", prdID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("PRD %s not found", prdID)
	}

	links, err := store.ListPRDLinks(ctx, prdID)
	if err != nil {
		return nil, fmt.Errorf("load PRD links for %s: %w", prdID, err)
	}

	coveredSuccess := make(map[string]bool)
	coveredConstraints := make(map[string]bool)
	for _, link := range links {
		if link.LinkType == types.PRDLinkTests {
			coveredConstraints[link.RequirementRef] = true
			continue
		}
		coveredSuccess[link.RequirementRef] = true
	}

	cov := &Coverage{PRDID: prdID}
	total := len(p.SuccessCriteria) + len(p.Constraints)
	if total == 0 {
		cov.CoveragePercent = 100
		return cov, nil
	}

	covered := 0
	for i, ref := range successCriteriaRefs(p) {
		if coveredSuccess[ref] {
			covered++
		} else {
			cov.UncoveredSuccess = append(cov.UncoveredSuccess, p.SuccessCriteria[i])
		}
	}
	for i, ref := range constraintRefs(p) {
		if coveredConstraints[ref] {
			covered++
		} else {
			cov.UncoveredConstraints = append(cov.UncoveredConstraints, p.Constraints[i])
		}
	}

	cov.TotalRequirements = total
	cov.CoveredRequirements = covered
	cov.CoveragePercent = int(float64(covered)/float64(total)*100 + 0.5)
	return cov, nil
}

func successCriteriaRefs(p *types.PRD) []string {
	refs := make([]string, len(p.SuccessCriteria))
	for i := range p.SuccessCriteria {
		refs[i] = fmt.Sprintf("success_criteria[%d]", i)
	}
	return refs
}

func constraintRefs(p *types.PRD) []string {
	refs := make([]string, len(p.Constraints))
	for i := range p.Constraints {
		refs[i] = fmt.Sprintf("constraints[%d]", i)
	}
	return refs
}
