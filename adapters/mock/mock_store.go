package mock

import (
	"context"
	"sync"

	"github.com/diazemiliano/mostro/domain"
)

// MockOrderStore implements settlement.OrderStore in memory.
type MockOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order

	// LoadErr and SaveErr inject store failures.
	LoadErr error
	SaveErr error

	// Saves counts successful Save calls.
	Saves int
}

// NewMockOrderStore creates an empty store.
func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{orders: make(map[string]domain.Order)}
}

// Put seeds an order, bypassing transition checks.
func (s *MockOrderStore) Put(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

// Load returns a copy of the stored order.
func (s *MockOrderStore) Load(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := order
	return &copied, nil
}

// Save stores a copy of the order.
func (s *MockOrderStore) Save(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.orders[order.ID] = *order
	s.Saves++
	return nil
}

// Get returns the currently stored version of an order for assertions.
func (s *MockOrderStore) Get(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	return order, ok
}

// MockPreimageVault implements settlement.PreimageVault in memory.
type MockPreimageVault struct {
	mu        sync.Mutex
	preimages map[string]string
}

// NewMockPreimageVault creates an empty vault.
func NewMockPreimageVault() *MockPreimageVault {
	return &MockPreimageVault{preimages: make(map[string]string)}
}

func (v *MockPreimageVault) Put(ctx context.Context, hash, preimage string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preimages[hash] = preimage
	return nil
}

func (v *MockPreimageVault) Get(ctx context.Context, hash string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	preimage, ok := v.preimages[hash]
	if !ok {
		return "", domain.ErrPreimageNotFound
	}
	return preimage, nil
}

func (v *MockPreimageVault) Delete(ctx context.Context, hash string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.preimages, hash)
	return nil
}

// Has reports whether a preimage is vaulted for the hash.
func (v *MockPreimageVault) Has(hash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.preimages[hash]
	return ok
}
