package recon

import (
	"context"
	"fmt"
	"sort"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
)

// GroupSplit describes a delete request that would remove only part of
// an installment group or subscription stream.
type GroupSplit struct {
	// Kind is "installment_group" or "subscription".
	Kind    string `json:"kind"`
	GroupID string `json:"group_id"`
	// Requested are the member ids included in the delete request.
	Requested []string `json:"requested"`
	// Remaining are the sibling ids the request would leave behind.
	Remaining []string `json:"remaining"`
}

// PartialGroupDeletionError is returned when a delete request would
// split a group and the caller has not confirmed. It lists every split
// so the caller can prompt the user.
type PartialGroupDeletionError struct {
	Splits []GroupSplit
}

func (e *PartialGroupDeletionError) Error() string {
	return fmt.Sprintf("recon: deletion would split %d group(s); confirmation required", len(e.Splits))
}

// DeletionPlan is the pre-flight report for a transaction delete
// request.
type DeletionPlan struct {
	TransactionIDs []string     `json:"transaction_ids"`
	Splits         []GroupSplit `json:"splits,omitempty"`
}

// RequiresConfirmation reports whether executing the plan needs an
// explicit caller confirmation.
func (p *DeletionPlan) RequiresConfirmation() bool {
	return len(p.Splits) > 0
}

// PlanDeletion inspects a delete request and reports any installment
// group or subscription stream it would only partially remove.
func (e *Engine) PlanDeletion(ctx context.Context, ids []string) (*DeletionPlan, error) {
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	plan := &DeletionPlan{TransactionIDs: ids}

	groups := make(map[string]bool)
	subscriptions := make(map[string]bool)
	for _, id := range ids {
		tx, err := e.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading transaction %s: %w", id, err)
		}
		if tx.InstallmentGroupID != "" {
			groups[tx.InstallmentGroupID] = true
		}
		if tx.SubscriptionID != "" {
			subscriptions[tx.SubscriptionID] = true
		}
	}

	for groupID := range groups {
		members, err := e.store.ListTransactionsByGroup(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("loading group %s: %w", groupID, err)
		}
		if split := splitFor("installment_group", groupID, members, requested); split != nil {
			plan.Splits = append(plan.Splits, *split)
		}
	}
	for subID := range subscriptions {
		members, err := e.store.ListTransactionsBySubscription(ctx, subID)
		if err != nil {
			return nil, fmt.Errorf("loading subscription %s: %w", subID, err)
		}
		if split := splitFor("subscription", subID, members, requested); split != nil {
			plan.Splits = append(plan.Splits, *split)
		}
	}

	sort.Slice(plan.Splits, func(i, j int) bool { return plan.Splits[i].GroupID < plan.Splits[j].GroupID })
	return plan, nil
}

// DeleteTransactions removes the given rows. If the request would split
// a group and confirmed is false, nothing is deleted and a
// *PartialGroupDeletionError lists the splits.
func (e *Engine) DeleteTransactions(ctx context.Context, ids []string, confirmed bool) error {
	plan, err := e.PlanDeletion(ctx, ids)
	if err != nil {
		return err
	}
	if plan.RequiresConfirmation() && !confirmed {
		return &PartialGroupDeletionError{Splits: plan.Splits}
	}

	if err := e.store.DeleteTransactions(ctx, ids); err != nil {
		return fmt.Errorf("deleting transactions: %w", err)
	}

	e.log.Info().Int("count", len(ids)).Bool("confirmed_split", plan.RequiresConfirmation()).Msg("Transactions deleted")
	return nil
}

func splitFor(kind, groupID string, members []*domain.Transaction, requested map[string]bool) *GroupSplit {
	var in, out []string
	for _, m := range members {
		if requested[m.ID] {
			in = append(in, m.ID)
		} else {
			out = append(out, m.ID)
		}
	}
	if len(in) == 0 || len(out) == 0 {
		return nil
	}
	sort.Strings(in)
	sort.Strings(out)
	return &GroupSplit{Kind: kind, GroupID: groupID, Requested: in, Remaining: out}
}
