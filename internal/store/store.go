// Package store defines the persistence contract the engines depend
// on. Concrete implementations live in store/memory and store/bigquery;
// the engines never see past these interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
)

var (
	// ErrDuplicateHash reports a unique-constraint violation on the
	// transaction hash. The reconciliation engine reinterprets it as a
	// duplicate sighting, not a failure.
	ErrDuplicateHash = errors.New("store: transaction hash already exists")

	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("store: not found")
)

// TransactionRepository persists and queries transaction rows.
type TransactionRepository interface {
	// InsertTransaction inserts a new row. Returns ErrDuplicateHash if a
	// row with the same hash already exists.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransactionByHash returns the row with the given hash, or
	// ErrNotFound.
	GetTransactionByHash(ctx context.Context, hash string) (*domain.Transaction, error)

	// FindByGroupAndIndex returns every row (any status) in the given
	// installment group at the given index.
	FindByGroupAndIndex(ctx context.Context, groupID string, index int) ([]*domain.Transaction, error)

	// FindProjectedByBusinessCard returns projected rows for a
	// business/card pair whose projected charge date falls inside the
	// window, for subscription-charge reconciliation.
	FindProjectedByBusinessCard(ctx context.Context, businessID, cardLast4 string, from, to time.Time) ([]*domain.Transaction, error)

	// UpdateTransaction overwrites an existing row by id.
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction returns the row with the given id, or ErrNotFound.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListTransactionsByBusiness returns rows currently owned by the
	// business.
	ListTransactionsByBusiness(ctx context.Context, businessID string) ([]*domain.Transaction, error)

	// ListTransactionsBySubscription returns the subscription's
	// generated stream.
	ListTransactionsBySubscription(ctx context.Context, subscriptionID string) ([]*domain.Transaction, error)

	// ListTransactionsByGroup returns every row in an installment group.
	ListTransactionsByGroup(ctx context.Context, groupID string) ([]*domain.Transaction, error)

	// DeleteTransactions removes the given rows in one operation.
	DeleteTransactions(ctx context.Context, ids []string) error
}

// BusinessRepository persists and queries merchant entities.
type BusinessRepository interface {
	CreateBusiness(ctx context.Context, b *domain.Business) error

	// GetBusiness returns the business by id, or ErrNotFound.
	GetBusiness(ctx context.Context, id string) (*domain.Business, error)

	// GetBusinessByNormalizedName returns the business with the given
	// canonical name regardless of merge state, or ErrNotFound.
	GetBusinessByNormalizedName(ctx context.Context, normalizedName string) (*domain.Business, error)

	// ListActiveBusinesses returns businesses with no MergedToID set.
	ListActiveBusinesses(ctx context.Context) ([]*domain.Business, error)

	// ListBusinessesMergedInto returns the merge sources pointing at the
	// given target.
	ListBusinessesMergedInto(ctx context.Context, targetID string) ([]*domain.Business, error)

	UpdateBusiness(ctx context.Context, b *domain.Business) error
}

// SuggestionRepository persists merge suggestions.
type SuggestionRepository interface {
	CreateSuggestion(ctx context.Context, s *domain.MergeSuggestion) error

	// GetSuggestion returns the suggestion by id, or ErrNotFound.
	GetSuggestion(ctx context.Context, id string) (*domain.MergeSuggestion, error)

	// FindSuggestionForPair matches the pair in either order, including
	// rejected (frozen) suggestions. Returns ErrNotFound on a miss.
	FindSuggestionForPair(ctx context.Context, businessID1, businessID2 string) (*domain.MergeSuggestion, error)

	ListPendingSuggestions(ctx context.Context) ([]*domain.MergeSuggestion, error)

	// RejectSuggestion marks the suggestion rejected until the given
	// time, starting its freeze window.
	RejectSuggestion(ctx context.Context, id string, until time.Time) error
}

// SubscriptionRepository persists recurring-charge definitions.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, s *domain.Subscription) error
}

// AtomicOps are the multi-step mutations that must commit together or
// not at all. Each implementation provides its own atomicity: the
// in-memory store mutates under a single lock, the BigQuery store runs
// a multi-statement transaction script.
type AtomicOps interface {
	// ApplyMerge repoints every transaction owned by the sources to the
	// target (stamping OriginalBusinessID only where not already set),
	// deletes pending suggestions referencing any involved business, and
	// soft-deletes the sources by setting MergedToID.
	ApplyMerge(ctx context.Context, targetID string, sourceIDs []string) (transactionsMoved int, err error)

	// ApplyUnmerge moves every transaction whose OriginalBusinessID is
	// the given business back to it and clears the business's MergedToID.
	ApplyUnmerge(ctx context.Context, businessID string) (transactionsMoved int, err error)

	// DeleteBusinessCascade deletes the business. With includeSources it
	// also deletes all businesses merged into it and every transaction
	// they originated; otherwise merged sources are restored to active
	// and transactions are left untouched.
	DeleteBusinessCascade(ctx context.Context, businessID string, includeSources bool) error
}

// Store aggregates everything the engines need from persistence.
type Store interface {
	TransactionRepository
	BusinessRepository
	SuggestionRepository
	SubscriptionRepository
	AtomicOps
}
