package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kirillkom/medibot/internal/core/domain"
)

// IngestionRunStore keeps run records in process memory for a limited time.
type IngestionRunStore struct {
	cache *cache.Cache
}

func NewIngestionRunStore(ttl time.Duration) *IngestionRunStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IngestionRunStore{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (s *IngestionRunStore) Create(_ context.Context, run *domain.IngestionRun) error {
	copied := *run
	if err := s.cache.Add(run.ID, &copied, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("create ingestion run: %w", err)
	}
	return nil
}

func (s *IngestionRunStore) Update(_ context.Context, run *domain.IngestionRun) error {
	copied := *run
	if err := s.cache.Replace(run.ID, &copied, cache.DefaultExpiration); err != nil {
		return domain.WrapError(domain.ErrNotFound, "update ingestion run", err)
	}
	return nil
}

func (s *IngestionRunStore) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	x, found := s.cache.Get(id)
	if !found {
		return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
	}
	copied := *x.(*domain.IngestionRun)
	return &copied, nil
}

// Lock is an in-process ingestion lock for single-instance deployments.
type Lock struct {
	mu sync.Mutex
}

func NewLock() *Lock {
	return &Lock{}
}

func (l *Lock) Acquire(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, domain.WrapError(domain.ErrIngestionInProgress, "acquire ingestion lock", fmt.Errorf("another run holds the lock"))
	}
	return l.mu.Unlock, nil
}
