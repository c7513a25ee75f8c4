package approval

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ispkit/stepflow/model"
)

var ErrNotApprover = errors.New("caller is not a configured approver for this step")
var ErrAlreadyActed = errors.New("caller has already recorded a decision for this step")
var ErrWaitingTurn = errors.New("an earlier approver must act first")
var ErrEmptyReason = errors.New("rejection reason can not be empty")
var ErrEmptyDelegate = errors.New("delegate target can not be empty")

// CanAct checks whether the given identity may record a decision on a step
// with this configuration and returns the roster slot the decision would
// fulfill. The identity must match a roster entry whose slot is still open,
// must not already have a decision on record, and under the sequential
// policy must not sit behind an unapproved required predecessor. All checks
// run locally, before anything reaches storage.
func CanAct(cfg *model.ApprovalConfig, decisions []model.ApprovalDecision, identity model.Identity) (string, error) {
	for _, d := range decisions {
		if d.Approver == identity.Identifier && d.Status != model.APPROVAL_PENDING {
			return "", ErrAlreadyActed
		}
	}
	slot, matched := openSlot(cfg, decisions, identity)
	if !matched {
		return "", ErrNotApprover
	}
	if slot == "" {
		return "", ErrAlreadyActed
	}
	if cfg.Policy == model.POLICY_SEQUENTIAL && !sequentialReady(cfg, decisions, slot) {
		return "", ErrWaitingTurn
	}
	return slot, nil
}

// openSlot finds the first roster entry the identity matches that has no
// recorded decision yet. The second return reports whether the identity
// matched any entry at all, consumed or not.
func openSlot(cfg *model.ApprovalConfig, decisions []model.ApprovalDecision, identity model.Identity) (string, bool) {
	consumed := make(map[string]bool)
	for _, d := range decisions {
		if d.Status == model.APPROVAL_PENDING {
			continue
		}
		slot := d.Slot
		if slot == "" {
			slot = d.Approver
		}
		consumed[slot] = true
	}
	matched := false
	for _, ap := range cfg.Approvers {
		if !entryMatches(ap, identity) {
			continue
		}
		matched = true
		if !consumed[ap.Identifier] {
			return ap.Identifier, true
		}
	}
	return "", matched
}

func entryMatches(ap model.ApproverDef, identity model.Identity) bool {
	switch ap.Type {
	case model.APPROVER_TYPE_USER:
		return ap.Identifier == identity.Identifier
	case model.APPROVER_TYPE_ROLE:
		return contains(identity.Roles, ap.Identifier)
	case model.APPROVER_TYPE_GROUP:
		return contains(identity.Groups, ap.Identifier)
	}
	return false
}

// sequentialReady reports whether every required approver ordered before the
// given slot has already approved. Slots outside the required chain are
// never blocked.
func sequentialReady(cfg *model.ApprovalConfig, decisions []model.ApprovalDecision, slot string) bool {
	approvals := Derive(cfg, decisions)
	chain := make([]model.Approval, 0, len(approvals))
	for i, a := range approvals {
		if cfg.Approvers[i].Required {
			chain = append(chain, a)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Order < chain[j].Order
	})
	for i, a := range chain {
		if a.Approver != slot {
			continue
		}
		for j := 0; j < i; j++ {
			if chain[j].Status != model.APPROVAL_APPROVED {
				return false
			}
		}
		return true
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ValidateDecision runs the local checks a decision must pass before any
// persistence call: a known decision value, and a non-blank reason when
// rejecting.
func ValidateDecision(req model.DecisionRequest) error {
	switch req.Decision {
	case model.APPROVAL_APPROVED:
		return nil
	case model.APPROVAL_REJECTED:
		if strings.TrimSpace(req.Reason) == "" {
			return ErrEmptyReason
		}
		return nil
	}
	return fmt.Errorf("invalid decision %s", req.Decision)
}

// Delegate returns a copy of the configuration with the from slot reassigned
// to the new identifier. Recorded history is untouched; only the roster entry
// changes. Delegating onto an identifier already in the roster is rejected,
// since duplicate identifiers have no defined semantics.
func Delegate(cfg *model.ApprovalConfig, from, to string) (*model.ApprovalConfig, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrEmptyDelegate
	}
	idx := -1
	for i, ap := range cfg.Approvers {
		if ap.Identifier == to {
			return nil, fmt.Errorf("approver %s is already on the roster", to)
		}
		if ap.Identifier == from && idx < 0 {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("approver %s is not on the roster: %w", from, ErrNotApprover)
	}
	out := *cfg
	out.Approvers = make([]model.ApproverDef, len(cfg.Approvers))
	copy(out.Approvers, cfg.Approvers)
	// the target is a named person, whatever kind of entry held the slot
	out.Approvers[idx].Identifier = to
	out.Approvers[idx].Name = ""
	out.Approvers[idx].Type = model.APPROVER_TYPE_USER
	return &out, nil
}
