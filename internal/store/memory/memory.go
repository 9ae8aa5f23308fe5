// Package memory is an in-memory Store implementation. It backs the
// engine tests and local runs; data is lost on restart. Safe for
// concurrent use; the composite operations mutate under a single lock
// so they are atomic by construction.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

// Store holds all entities in mutex-guarded maps with a hash-uniqueness
// index over transactions.
type Store struct {
	mu sync.RWMutex

	transactions map[string]*domain.Transaction
	txByHash     map[string]string // hash -> transaction id

	businesses     map[string]*domain.Business
	businessByName map[string]string // normalized name -> business id

	suggestions   map[string]*domain.MergeSuggestion
	subscriptions map[string]*domain.Subscription
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		transactions:   make(map[string]*domain.Transaction),
		txByHash:       make(map[string]string),
		businesses:     make(map[string]*domain.Business),
		businessByName: make(map[string]string),
		suggestions:    make(map[string]*domain.MergeSuggestion),
		subscriptions:  make(map[string]*domain.Subscription),
	}
}

//
// TransactionRepository
//

func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("memory: transaction id is required")
	}
	if tx.Hash == "" {
		return fmt.Errorf("memory: transaction hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txByHash[tx.Hash]; exists {
		return store.ErrDuplicateHash
	}
	if _, exists := s.transactions[tx.ID]; exists {
		return fmt.Errorf("memory: transaction %s already exists", tx.ID)
	}

	s.transactions[tx.ID] = copyTransaction(tx)
	s.txByHash[tx.Hash] = tx.ID
	return nil
}

func (s *Store) GetTransactionByHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByHash[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTransaction(s.transactions[id]), nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (s *Store) FindByGroupAndIndex(ctx context.Context, groupID string, index int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.InstallmentGroupID == groupID && tx.InstallmentIndex == index {
			result = append(result, copyTransaction(tx))
		}
	}
	return result, nil
}

func (s *Store) FindProjectedByBusinessCard(ctx context.Context, businessID, cardLast4 string, from, to time.Time) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.Status != domain.StatusProjected || tx.BusinessID != businessID || tx.CardLast4 != cardLast4 {
			continue
		}
		if tx.ProjectedChargeDate == nil {
			continue
		}
		d := *tx.ProjectedChargeDate
		if d.Before(from) || d.After(to) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}
	return result, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.transactions[tx.ID]
	if !ok {
		return store.ErrNotFound
	}

	// Hash corrections must keep the uniqueness index consistent.
	if prev.Hash != tx.Hash {
		if otherID, exists := s.txByHash[tx.Hash]; exists && otherID != tx.ID {
			return store.ErrDuplicateHash
		}
		delete(s.txByHash, prev.Hash)
		s.txByHash[tx.Hash] = tx.ID
	}

	s.transactions[tx.ID] = copyTransaction(tx)
	return nil
}

func (s *Store) ListTransactionsByBusiness(ctx context.Context, businessID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.BusinessID == businessID {
			result = append(result, copyTransaction(tx))
		}
	}
	return result, nil
}

func (s *Store) ListTransactionsBySubscription(ctx context.Context, subscriptionID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.SubscriptionID == subscriptionID {
			result = append(result, copyTransaction(tx))
		}
	}
	return result, nil
}

func (s *Store) ListTransactionsByGroup(ctx context.Context, groupID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.InstallmentGroupID == groupID {
			result = append(result, copyTransaction(tx))
		}
	}
	return result, nil
}

func (s *Store) DeleteTransactions(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTransactionsLocked(ids)
	return nil
}

func (s *Store) deleteTransactionsLocked(ids []string) {
	for _, id := range ids {
		if tx, ok := s.transactions[id]; ok {
			delete(s.txByHash, tx.Hash)
			delete(s.transactions, id)
		}
	}
}

//
// BusinessRepository
//

func (s *Store) CreateBusiness(ctx context.Context, b *domain.Business) error {
	if b.ID == "" {
		return fmt.Errorf("memory: business id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.businessByName[b.NormalizedName]; exists {
		return fmt.Errorf("memory: business %q already exists", b.NormalizedName)
	}

	s.businesses[b.ID] = copyBusiness(b)
	s.businessByName[b.NormalizedName] = b.ID
	return nil
}

func (s *Store) GetBusiness(ctx context.Context, id string) (*domain.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.businesses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyBusiness(b), nil
}

func (s *Store) GetBusinessByNormalizedName(ctx context.Context, normalizedName string) (*domain.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.businessByName[normalizedName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyBusiness(s.businesses[id]), nil
}

func (s *Store) ListActiveBusinesses(ctx context.Context) ([]*domain.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Business
	for _, b := range s.businesses {
		if b.Active() {
			result = append(result, copyBusiness(b))
		}
	}
	return result, nil
}

func (s *Store) ListBusinessesMergedInto(ctx context.Context, targetID string) ([]*domain.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Business
	for _, b := range s.businesses {
		if b.MergedToID == targetID {
			result = append(result, copyBusiness(b))
		}
	}
	return result, nil
}

func (s *Store) UpdateBusiness(ctx context.Context, b *domain.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.businesses[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	if prev.NormalizedName != b.NormalizedName {
		delete(s.businessByName, prev.NormalizedName)
		s.businessByName[b.NormalizedName] = b.ID
	}
	s.businesses[b.ID] = copyBusiness(b)
	return nil
}

//
// SuggestionRepository
//

func (s *Store) CreateSuggestion(ctx context.Context, sg *domain.MergeSuggestion) error {
	if sg.ID == "" {
		return fmt.Errorf("memory: suggestion id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.suggestions[sg.ID] = copySuggestion(sg)
	return nil
}

func (s *Store) GetSuggestion(ctx context.Context, id string) (*domain.MergeSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySuggestion(sg), nil
}

func (s *Store) FindSuggestionForPair(ctx context.Context, businessID1, businessID2 string) (*domain.MergeSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// A pair can accumulate rows over time (rejected, then re-suggested
	// after the freeze elapsed); the pending one wins.
	var found *domain.MergeSuggestion
	for _, sg := range s.suggestions {
		if (sg.BusinessID1 == businessID1 && sg.BusinessID2 == businessID2) ||
			(sg.BusinessID1 == businessID2 && sg.BusinessID2 == businessID1) {
			if sg.Pending() {
				return copySuggestion(sg), nil
			}
			if found == nil || timeAfter(sg.RejectedUntil, found.RejectedUntil) {
				found = sg
			}
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return copySuggestion(found), nil
}

func (s *Store) ListPendingSuggestions(ctx context.Context) ([]*domain.MergeSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MergeSuggestion
	for _, sg := range s.suggestions {
		if sg.Pending() {
			result = append(result, copySuggestion(sg))
		}
	}
	return result, nil
}

func (s *Store) RejectSuggestion(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return store.ErrNotFound
	}
	u := until
	sg.RejectedUntil = &u
	return nil
}

//
// SubscriptionRepository
//

func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == "" {
		return fmt.Errorf("memory: subscription id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySubscription(sub), nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; !ok {
		return store.ErrNotFound
	}
	s.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

//
// AtomicOps
//

func (s *Store) ApplyMerge(ctx context.Context, targetID string, sourceIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[targetID]; !ok {
		return 0, store.ErrNotFound
	}
	sources := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, ok := s.businesses[id]; !ok {
			return 0, store.ErrNotFound
		}
		sources[id] = true
	}

	moved := 0
	for _, tx := range s.transactions {
		if !sources[tx.BusinessID] {
			continue
		}
		if tx.OriginalBusinessID == "" {
			tx.OriginalBusinessID = tx.BusinessID
		}
		tx.BusinessID = targetID
		moved++
	}

	involved := append([]string{targetID}, sourceIDs...)
	for id, sg := range s.suggestions {
		if !sg.Pending() {
			continue
		}
		for _, bid := range involved {
			if sg.References(bid) {
				delete(s.suggestions, id)
				break
			}
		}
	}

	for id := range sources {
		s.businesses[id].MergedToID = targetID
	}

	return moved, nil
}

func (s *Store) ApplyUnmerge(ctx context.Context, businessID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[businessID]
	if !ok {
		return 0, store.ErrNotFound
	}

	moved := 0
	for _, tx := range s.transactions {
		if tx.OriginalBusinessID == businessID {
			tx.BusinessID = businessID
			tx.OriginalBusinessID = ""
			moved++
		}
	}
	b.MergedToID = ""

	return moved, nil
}

func (s *Store) DeleteBusinessCascade(ctx context.Context, businessID string, includeSources bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[businessID]; !ok {
		return store.ErrNotFound
	}

	var sourceIDs []string
	for id, b := range s.businesses {
		if b.MergedToID == businessID {
			sourceIDs = append(sourceIDs, id)
		}
	}

	if includeSources {
		// Parent, sources, and every transaction they own or originated.
		doomed := map[string]bool{businessID: true}
		for _, id := range sourceIDs {
			doomed[id] = true
		}
		var txIDs []string
		for id, tx := range s.transactions {
			if doomed[tx.BusinessID] || doomed[tx.OriginalBusinessID] {
				txIDs = append(txIDs, id)
			}
		}
		s.deleteTransactionsLocked(txIDs)
		for id := range doomed {
			s.deleteBusinessLocked(id)
		}
		return nil
	}

	// Parent-only: return provenance-tracked transactions to their
	// sources, restore the sources to active, then delete the parent and
	// whatever it still owns outright.
	for _, srcID := range sourceIDs {
		for _, tx := range s.transactions {
			if tx.OriginalBusinessID == srcID {
				tx.BusinessID = srcID
				tx.OriginalBusinessID = ""
			}
		}
		s.businesses[srcID].MergedToID = ""
	}
	var txIDs []string
	for id, tx := range s.transactions {
		if tx.BusinessID == businessID {
			txIDs = append(txIDs, id)
		}
	}
	s.deleteTransactionsLocked(txIDs)
	s.deleteBusinessLocked(businessID)
	return nil
}

func (s *Store) deleteBusinessLocked(id string) {
	if b, ok := s.businesses[id]; ok {
		delete(s.businessByName, b.NormalizedName)
		delete(s.businesses, id)
	}
}

//
// copies — callers never share memory with the store
//

func copyTransaction(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	c.BankChargeDate = copyTime(tx.BankChargeDate)
	c.ProjectedChargeDate = copyTime(tx.ProjectedChargeDate)
	c.ActualChargeDate = copyTime(tx.ActualChargeDate)
	c.UpdatedAt = copyTime(tx.UpdatedAt)
	return &c
}

func copyBusiness(b *domain.Business) *domain.Business {
	c := *b
	c.UpdatedAt = copyTime(b.UpdatedAt)
	return &c
}

func copySuggestion(sg *domain.MergeSuggestion) *domain.MergeSuggestion {
	c := *sg
	c.RejectedUntil = copyTime(sg.RejectedUntil)
	return &c
}

func copySubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	c.EndDate = copyTime(sub.EndDate)
	c.UpdatedAt = copyTime(sub.UpdatedAt)
	return &c
}

func timeAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Ensure Store satisfies the full persistence contract.
var _ store.Store = (*Store)(nil)
