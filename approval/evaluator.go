// Package approval computes the aggregate outcome of an approval step from
// its configured roster and the decisions recorded so far. Everything here is
// a pure function over those two inputs and is recomputed from scratch on
// every evaluation.
package approval

import (
	"sort"

	"github.com/ispkit/stepflow/model"
)

// Derive joins the configured roster against recorded decisions and returns
// one Approval per configured approver, in roster order. Decisions attach to
// their recorded slot, falling back to the acting user's identifier for
// decisions written before slots existed. Approvers without a recorded
// decision appear as pending, so the result is always a total view of the
// roster. If two roster entries share an identifier the first recorded
// decision wins for both; template validation rejects such configs up front.
func Derive(cfg *model.ApprovalConfig, decisions []model.ApprovalDecision) []model.Approval {
	bySlot := make(map[string]model.ApprovalDecision)
	for _, d := range decisions {
		slot := d.Slot
		if slot == "" {
			slot = d.Approver
		}
		if _, ok := bySlot[slot]; !ok {
			bySlot[slot] = d
		}
	}
	approvals := make([]model.Approval, 0, len(cfg.Approvers))
	for _, ap := range cfg.Approvers {
		a := model.Approval{
			Approver:     ap.Identifier,
			ApproverName: ap.Name,
			Status:       model.APPROVAL_PENDING,
			Required:     ap.Required,
			Order:        ap.Order,
		}
		if d, ok := bySlot[ap.Identifier]; ok {
			a.Status = d.Status
			a.Timestamp = d.Timestamp
			a.Comment = d.Comment
			if d.Approver != ap.Identifier {
				a.ActedBy = d.Approver
			}
			if d.ApproverName != "" {
				a.ApproverName = d.ApproverName
			}
		}
		approvals = append(approvals, a)
	}
	return approvals
}

// Evaluate computes the aggregate status of one approval step. A recorded
// rejection dominates every policy; the policy rules only decide between
// approved, pending and waiting.
func Evaluate(cfg *model.ApprovalConfig, decisions []model.ApprovalDecision) model.AggregateStatus {
	for _, d := range decisions {
		if d.Status == model.APPROVAL_REJECTED {
			return model.AGGREGATE_REJECTED
		}
	}
	approvals := Derive(cfg, decisions)
	switch cfg.Policy {
	case model.POLICY_ANY:
		return evaluateAny(approvals)
	case model.POLICY_ALL:
		return evaluateAll(approvals)
	case model.POLICY_MAJORITY:
		return evaluateMajority(approvals)
	case model.POLICY_SEQUENTIAL:
		return evaluateSequential(approvals)
	}
	return model.AGGREGATE_PENDING
}

func evaluateAny(approvals []model.Approval) model.AggregateStatus {
	for _, a := range approvals {
		if a.Status == model.APPROVAL_APPROVED {
			return model.AGGREGATE_APPROVED
		}
	}
	return model.AGGREGATE_PENDING
}

// evaluateAll only counts required approvers; optional approvers may record
// decisions but never block completion.
func evaluateAll(approvals []model.Approval) model.AggregateStatus {
	for _, a := range approvals {
		if a.Required && a.Status != model.APPROVAL_APPROVED {
			return model.AGGREGATE_PENDING
		}
	}
	return model.AGGREGATE_APPROVED
}

// evaluateMajority counts strictly more than half of the whole roster,
// required or not.
func evaluateMajority(approvals []model.Approval) model.AggregateStatus {
	approved := 0
	for _, a := range approvals {
		if a.Status == model.APPROVAL_APPROVED {
			approved++
		}
	}
	if approved > len(approvals)/2 {
		return model.AGGREGATE_APPROVED
	}
	return model.AGGREGATE_PENDING
}

// evaluateSequential walks required approvers in ascending order (ties keep
// roster position) and stops at the first entry that has not approved: the
// head of the chain is pending, anyone behind an unapproved predecessor is
// waiting.
func evaluateSequential(approvals []model.Approval) model.AggregateStatus {
	chain := make([]model.Approval, 0, len(approvals))
	for _, a := range approvals {
		if a.Required {
			chain = append(chain, a)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Order < chain[j].Order
	})
	for i, a := range chain {
		switch a.Status {
		case model.APPROVAL_REJECTED:
			return model.AGGREGATE_REJECTED
		case model.APPROVAL_PENDING:
			if i == 0 || chain[i-1].Status == model.APPROVAL_APPROVED {
				return model.AGGREGATE_PENDING
			}
			return model.AGGREGATE_WAITING
		}
	}
	return model.AGGREGATE_APPROVED
}
