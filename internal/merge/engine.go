// Package merge finds near-duplicate merchant records and performs the
// reversible merge that re-parents their transactions. A merge is a
// soft delete: the source business keeps its row and points at the
// target, and every moved transaction remembers its original owner.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/similarity"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

// RejectionFreezeDays is how long a rejected pair stays off the
// suggestion list.
const RejectionFreezeDays = 30

var (
	// ErrInvalidMergeRequest reports a merge set with fewer than two
	// businesses or one that does not contain the target.
	ErrInvalidMergeRequest = errors.New("merge: invalid merge request")

	// ErrMergedBusiness reports an operation on a business that was
	// already merged away. Merges must always target and consume active
	// businesses; anything else is a data invariant violation to flag,
	// not to resolve by chasing pointers.
	ErrMergedBusiness = errors.New("merge: business is already merged")

	// ErrDeleteModeRequired reports a delete of a business with merged
	// sources where the caller did not choose a mode. There is no silent
	// default.
	ErrDeleteModeRequired = errors.New("merge: business has merged sources; delete mode is required")
)

// DeleteMode selects what a business delete does with merged sources.
type DeleteMode string

const (
	// DeleteParentOnly removes the parent and restores its merged
	// sources to active; no source transactions are deleted.
	DeleteParentOnly DeleteMode = "parent_only"
	// DeleteCascade removes the parent, every merged source, and all
	// transactions they own or originated.
	DeleteCascade DeleteMode = "cascade"
)

// DetectResult summarizes one detection scan.
type DetectResult struct {
	SuggestionsCreated int `json:"suggestions_created"`
	BusinessesCompared int `json:"businesses_compared"`
}

// MergeResult reports an executed merge.
type MergeResult struct {
	TargetID          string `json:"target_id"`
	BusinessesMerged  int    `json:"businesses_merged"`
	TransactionsMoved int    `json:"transactions_moved"`
}

// UnmergeResult reports an executed unmerge.
type UnmergeResult struct {
	BusinessID        string `json:"business_id"`
	TargetID          string `json:"target_id"`
	TransactionsMoved int    `json:"transactions_moved"`
}

// Engine owns merge detection and execution.
type Engine struct {
	store     store.Store
	log       zerolog.Logger
	threshold float64
	now       func() time.Time
}

// New creates a merge engine at the default similarity threshold.
func New(st store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		log:       log,
		threshold: similarity.DefaultThreshold,
		now:       time.Now,
	}
}

// DetectMerges pairwise-compares all active businesses' normalized
// names and records a pending suggestion for every qualifying pair that
// is not already suggested and not inside its rejection freeze window.
func (e *Engine) DetectMerges(ctx context.Context) (*DetectResult, error) {
	businesses, err := e.store.ListActiveBusinesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing businesses: %w", err)
	}

	now := e.now()
	result := &DetectResult{BusinessesCompared: len(businesses)}

	for i := 0; i < len(businesses); i++ {
		for j := i + 1; j < len(businesses); j++ {
			a, b := businesses[i], businesses[j]

			score := similarity.Score(a.NormalizedName, b.NormalizedName)
			if score < e.threshold {
				continue
			}

			existing, err := e.store.FindSuggestionForPair(ctx, a.ID, b.ID)
			if err == nil {
				if existing.Pending() || existing.Frozen(now) {
					continue
				}
				// Rejected, freeze elapsed: fair game again.
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("looking up suggestion for pair: %w", err)
			}

			sg := &domain.MergeSuggestion{
				ID:          uuid.NewString(),
				BusinessID1: a.ID,
				BusinessID2: b.ID,
				Score:       score,
				Reason:      fmt.Sprintf("names %q and %q are %.0f%% similar", a.DisplayName, b.DisplayName, score*100),
				CreatedAt:   now,
			}
			if err := e.store.CreateSuggestion(ctx, sg); err != nil {
				return nil, fmt.Errorf("creating suggestion: %w", err)
			}
			result.SuggestionsCreated++
		}
	}

	e.log.Info().
		Int("businesses_compared", result.BusinessesCompared).
		Int("suggestions_created", result.SuggestionsCreated).
		Msg("Merge detection completed")

	return result, nil
}

// MergeBusinesses merges the given set into targetID. Repointing
// transactions, pruning suggestions, and soft-deleting the sources
// commit together or not at all.
func (e *Engine) MergeBusinesses(ctx context.Context, targetID string, businessIDs []string) (*MergeResult, error) {
	if len(businessIDs) < 2 {
		return nil, fmt.Errorf("%w: need at least two businesses, got %d", ErrInvalidMergeRequest, len(businessIDs))
	}

	var sourceIDs []string
	targetIncluded := false
	for _, id := range businessIDs {
		if id == targetID {
			targetIncluded = true
			continue
		}
		sourceIDs = append(sourceIDs, id)
	}
	if !targetIncluded {
		return nil, fmt.Errorf("%w: target %s not in merge set", ErrInvalidMergeRequest, targetID)
	}

	target, err := e.store.GetBusiness(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading target business: %w", err)
	}
	if !target.Active() {
		return nil, fmt.Errorf("%w: target %s", ErrMergedBusiness, targetID)
	}
	for _, id := range sourceIDs {
		src, err := e.store.GetBusiness(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading source business %s: %w", id, err)
		}
		if !src.Active() {
			return nil, fmt.Errorf("%w: source %s", ErrMergedBusiness, id)
		}
	}

	moved, err := e.store.ApplyMerge(ctx, targetID, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("applying merge: %w", err)
	}

	e.log.Info().
		Str("target_id", targetID).
		Int("sources", len(sourceIDs)).
		Int("transactions_moved", moved).
		Msg("Businesses merged")

	return &MergeResult{
		TargetID:          targetID,
		BusinessesMerged:  len(sourceIDs),
		TransactionsMoved: moved,
	}, nil
}

// UnmergeBusiness reverses a merge for one source business: every
// transaction that originated there returns, and the business becomes
// active again. Transactions merged before provenance tracking existed
// carry no OriginalBusinessID and cannot be recovered; that is accepted
// behavior.
func (e *Engine) UnmergeBusiness(ctx context.Context, businessID string) (*UnmergeResult, error) {
	b, err := e.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("loading business: %w", err)
	}
	if b.Active() {
		return nil, fmt.Errorf("merge: business %s is not merged", businessID)
	}
	targetID := b.MergedToID

	moved, err := e.store.ApplyUnmerge(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("applying unmerge: %w", err)
	}

	e.log.Info().
		Str("business_id", businessID).
		Str("target_id", targetID).
		Int("transactions_moved", moved).
		Msg("Business unmerged")

	return &UnmergeResult{
		BusinessID:        businessID,
		TargetID:          targetID,
		TransactionsMoved: moved,
	}, nil
}

// RejectSuggestion starts the rejection freeze window for a pair.
func (e *Engine) RejectSuggestion(ctx context.Context, suggestionID string) error {
	if _, err := e.store.GetSuggestion(ctx, suggestionID); err != nil {
		return fmt.Errorf("loading suggestion: %w", err)
	}

	until := e.now().AddDate(0, 0, RejectionFreezeDays)
	if err := e.store.RejectSuggestion(ctx, suggestionID, until); err != nil {
		return fmt.Errorf("rejecting suggestion: %w", err)
	}

	e.log.Info().Str("suggestion_id", suggestionID).Time("frozen_until", until).Msg("Suggestion rejected")
	return nil
}

// DeleteBusiness deletes a business. When the business has sources
// merged into it the caller must pick a mode explicitly.
func (e *Engine) DeleteBusiness(ctx context.Context, businessID string, mode DeleteMode) error {
	if _, err := e.store.GetBusiness(ctx, businessID); err != nil {
		return fmt.Errorf("loading business: %w", err)
	}

	sources, err := e.store.ListBusinessesMergedInto(ctx, businessID)
	if err != nil {
		return fmt.Errorf("listing merged sources: %w", err)
	}

	includeSources := false
	if len(sources) > 0 {
		switch mode {
		case DeleteParentOnly:
		case DeleteCascade:
			includeSources = true
		default:
			return fmt.Errorf("%w: %d source(s) merged into %s", ErrDeleteModeRequired, len(sources), businessID)
		}
	}

	if err := e.store.DeleteBusinessCascade(ctx, businessID, includeSources); err != nil {
		return fmt.Errorf("deleting business: %w", err)
	}

	e.log.Info().
		Str("business_id", businessID).
		Int("merged_sources", len(sources)).
		Bool("cascade", includeSources).
		Msg("Business deleted")

	return nil
}
