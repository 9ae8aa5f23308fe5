package domain

import "time"

// Business is a merchant entity. NormalizedName is the canonical dedup
// key. A business with MergedToID set is a merge source: it no longer
// appears in active listings and owns no transactions until unmerged.
type Business struct {
	ID             string
	NormalizedName string
	DisplayName    string
	CategoryID     string
	Approved       bool

	// MergedToID is a single-level pointer, never a chain: merges always
	// target an active business, enforced at merge time.
	MergedToID string

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Active reports whether the business has not been merged away.
func (b *Business) Active() bool {
	return b.MergedToID == ""
}

// MergeSuggestion is a candidate pair of near-duplicate businesses
// produced by the merge detector. A suggestion is pending until it is
// approved (consumed by a merge) or rejected. RejectedUntil implements
// the rejection freeze: the pair is not re-suggested while
// RejectedUntil is in the future.
type MergeSuggestion struct {
	ID          string
	BusinessID1 string
	BusinessID2 string
	Score       float64
	Reason      string

	RejectedUntil *time.Time

	CreatedAt time.Time
}

// References reports whether the suggestion touches the given business.
func (s *MergeSuggestion) References(businessID string) bool {
	return s.BusinessID1 == businessID || s.BusinessID2 == businessID
}

// Pending reports whether the suggestion is still awaiting review.
func (s *MergeSuggestion) Pending() bool {
	return s.RejectedUntil == nil
}

// Frozen reports whether the pair was rejected and the freeze window
// has not elapsed yet. Frozen pairs must not be re-suggested.
func (s *MergeSuggestion) Frozen(now time.Time) bool {
	return s.RejectedUntil != nil && s.RejectedUntil.After(now)
}
