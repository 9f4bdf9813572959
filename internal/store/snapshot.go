package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const (
	defaultPrefix = "sentinel"
	indexSuffix   = ":incidents"
)

// Snapshot is a Store that keeps incidents as JSON documents in a cache.Provider,
// with a set of ids as the index. Terminal incidents expire after TTL.
type Snapshot struct {
	provider cache.Provider
	prefix   string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewSnapshot wraps provider. An empty prefix defaults to "sentinel"; a zero ttl keeps terminal incidents forever.
func NewSnapshot(provider cache.Provider, prefix string, ttl time.Duration, logger *slog.Logger) *Snapshot {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshot{provider: provider, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *Snapshot) key(id string) string {
	return s.prefix + ":incident:" + id
}

func (s *Snapshot) index() string {
	return s.prefix + indexSuffix
}

// Get loads and decodes one incident.
func (s *Snapshot) Get(ctx context.Context, id string) (*models.Incident, error) {
	raw, err := s.provider.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, utils.NewAppError("store.get", "snapshot read failed", err)
	}
	var inc models.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, utils.NewAppError("store.get", "snapshot decode failed", err)
	}
	return &inc, nil
}

// Put writes the incident document and indexes its id.
func (s *Snapshot) Put(ctx context.Context, inc *models.Incident) error {
	if inc == nil || inc.ID == "" {
		return errors.New("incident id required")
	}
	raw, err := json.Marshal(inc)
	if err != nil {
		return utils.NewAppError("store.put", "snapshot encode failed", err)
	}
	var ttl time.Duration
	if inc.Status.Terminal() {
		ttl = s.ttl
	}
	if err := s.provider.Set(ctx, s.key(inc.ID), raw, ttl); err != nil {
		return utils.NewAppError("store.put", fmt.Sprintf("snapshot write failed for %s", inc.ID), err)
	}
	if err := s.provider.AddMember(ctx, s.index(), inc.ID); err != nil {
		return utils.NewAppError("store.put", "index update failed", err)
	}
	return nil
}

// List loads every indexed incident. Ids whose document expired are pruned from the index.
func (s *Snapshot) List(ctx context.Context) ([]*models.Incident, error) {
	ids, err := s.provider.Members(ctx, s.index())
	if err != nil {
		return nil, utils.NewAppError("store.list", "index read failed", err)
	}
	out := make([]*models.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			if rmErr := s.provider.RemoveMember(ctx, s.index(), id); rmErr != nil {
				s.logger.Warn("prune incident index failed", slog.String("incident_id", id), slog.Any("error", rmErr))
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	SortNewestFirst(out)
	return out, nil
}

// Delete drops the document and its index entry.
func (s *Snapshot) Delete(ctx context.Context, id string) error {
	if err := s.provider.Del(ctx, s.key(id)); err != nil {
		return utils.NewAppError("store.delete", "snapshot delete failed", err)
	}
	if err := s.provider.RemoveMember(ctx, s.index(), id); err != nil {
		return utils.NewAppError("store.delete", "index update failed", err)
	}
	return nil
}
