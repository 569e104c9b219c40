package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/store"
)

// Reviewer moves proposals through their lifecycle. Pending proposals can
// be approved, rejected, or applied; approved ones can still be applied.
// Undo walks an approved or applied proposal back to rejected and reverses
// any framework it created.
type Reviewer struct {
	Store *store.Store
	Log   *observability.Logger
}

// frameworkPayload is the payload shape of a framework-targeted guidance
// update.
type frameworkPayload struct {
	Target        string `json:"target"`
	FrameworkType string `json:"framework_type"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Priority      int    `json:"priority"`
}

// frameworkTargeted reports whether a proposal's payload targets a coaching
// framework, the one side effect Apply executes.
func frameworkTargeted(p *store.AnalysisProposal) bool {
	if p.ProposalKind != ProposalKindGuidanceUpdate {
		return false
	}
	var payload frameworkPayload
	if json.Unmarshal([]byte(p.PayloadJSON), &payload) != nil {
		return false
	}
	return payload.Target == "framework"
}

// Approve marks a pending proposal approved without side effects. Approved
// proposals surface in the adaptive-guidance context block.
func (r *Reviewer) Approve(ctx context.Context, userID, id int64, reviewerID *int64, note string) (*store.AnalysisProposal, error) {
	return r.transition(ctx, userID, id, reviewerID, note, store.ProposalApproved, store.ProposalPending)
}

// Reject marks a pending proposal rejected.
func (r *Reviewer) Reject(ctx context.Context, userID, id int64, reviewerID *int64, note string) (*store.AnalysisProposal, error) {
	return r.transition(ctx, userID, id, reviewerID, note, store.ProposalRejected, store.ProposalPending)
}

// Apply executes a proposal's side effects and marks it applied. A
// framework-targeted guidance update activates its framework; other
// payloads take effect through the guidance block alone.
func (r *Reviewer) Apply(ctx context.Context, userID, id int64, reviewerID *int64, note string) (*store.AnalysisProposal, error) {
	p, err := r.Store.GetProposal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != store.ProposalPending && p.Status != store.ProposalApproved {
		return nil, fmt.Errorf("analysis: cannot apply proposal in state %q", p.Status)
	}
	if frameworkTargeted(p) {
		if err := r.applyFramework(ctx, userID, p); err != nil {
			return nil, err
		}
	}
	if err := r.Store.UpdateProposalStatus(ctx, userID, id, store.ProposalApplied, reviewerID, note); err != nil {
		return nil, err
	}
	p.Status = store.ProposalApplied
	return p, nil
}

// Undo walks an approved or applied proposal back to rejected. For applied
// framework-targeted proposals the created framework is deactivated.
func (r *Reviewer) Undo(ctx context.Context, userID, id int64, reviewerID *int64, note string) (*store.AnalysisProposal, error) {
	p, err := r.Store.GetProposal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != store.ProposalApproved && p.Status != store.ProposalApplied {
		return nil, fmt.Errorf("analysis: cannot undo proposal in state %q", p.Status)
	}
	if p.Status == store.ProposalApplied && frameworkTargeted(p) {
		if err := r.undoFramework(ctx, userID, p); err != nil {
			return nil, err
		}
	}
	if note == "" {
		note = "undone"
	}
	if err := r.Store.UpdateProposalStatus(ctx, userID, id, store.ProposalRejected, reviewerID, note); err != nil {
		return nil, err
	}
	p.Status = store.ProposalRejected
	return p, nil
}

func (r *Reviewer) transition(ctx context.Context, userID, id int64, reviewerID *int64, note, to string, from ...string) (*store.AnalysisProposal, error) {
	p, err := r.Store.GetProposal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if p.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return nil, fmt.Errorf("analysis: cannot move proposal from %q to %q", p.Status, to)
	}
	if err := r.Store.UpdateProposalStatus(ctx, userID, id, to, reviewerID, note); err != nil {
		return nil, err
	}
	p.Status = to
	return p, nil
}

func (r *Reviewer) applyFramework(ctx context.Context, userID int64, p *store.AnalysisProposal) error {
	var payload frameworkPayload
	if err := json.Unmarshal([]byte(p.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("analysis: framework payload: %w", err)
	}
	if strings.TrimSpace(payload.Name) == "" {
		payload.Name = p.Title
	}
	if payload.FrameworkType == "" {
		payload.FrameworkType = "guidance"
	}
	if payload.Priority <= 0 {
		payload.Priority = 50
	}
	_, err := r.Store.AddFramework(ctx, &store.HealthFramework{
		UserID:        userID,
		FrameworkType: payload.FrameworkType,
		Name:          payload.Name,
		Description:   payload.Description,
		Priority:      payload.Priority,
		IsActive:      true,
	})
	return err
}

// undoFramework deactivates the framework the apply step created, matched
// by name among the user's active frameworks.
func (r *Reviewer) undoFramework(ctx context.Context, userID int64, p *store.AnalysisProposal) error {
	var payload frameworkPayload
	if err := json.Unmarshal([]byte(p.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("analysis: framework payload: %w", err)
	}
	name := payload.Name
	if strings.TrimSpace(name) == "" {
		name = p.Title
	}
	active, err := r.Store.ActiveFrameworks(ctx, userID)
	if err != nil {
		return err
	}
	for _, f := range active {
		if strings.EqualFold(f.Name, name) {
			return r.Store.DeactivateFramework(ctx, userID, f.ID)
		}
	}
	if r.Log != nil {
		r.Log.Warn(ctx, "analysis: undo found no matching active framework",
			"user_id", userID, "proposal_id", p.ID, "name", name)
	}
	return nil
}
