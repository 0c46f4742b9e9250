package vocab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// repository is the postgres surface the service depends on
type repository interface {
	GetCurrentVersions(ctx context.Context, tenantID string) (map[string]string, error)
	GetValidCodes(ctx context.Context, tenantID string, domain string) ([]int, error)
}

// cache is the subset of the redis client the service uses
type cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Service serves current vocabulary versions and code membership with a TTL
// cache in front of postgres. Vocabularies change rarely; validators call
// IsValidCode per staged field, so misses must not hit postgres per record.
type Service struct {
	repo   repository
	cache  cache
	ttl    time.Duration
	logger ectologger.Logger
}

// NewService creates a vocabulary service
func NewService(repo repository, cache cache, ttl time.Duration, logger ectologger.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// NewServiceWithRedis wires the shared redis client as the version cache
func NewServiceWithRedis(repo repository, client *redis.Client, ttl time.Duration, logger ectologger.Logger) *Service {
	return NewService(repo, client, ttl, logger)
}

// GetAllCurrentVersions returns domain -> current semver for the tenant
func (s *Service) GetAllCurrentVersions(ctx context.Context, tenantID string) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "vocab.Service.GetAllCurrentVersions")
	defer span.End()

	key := fmt.Sprintf("vocab:versions:%s", tenantID)
	if cached, err := s.cache.Get(ctx, key); err == nil && cached != "" {
		var versions map[string]string
		if err := json.Unmarshal([]byte(cached), &versions); err == nil {
			return versions, nil
		}
	}

	versions, err := s.repo.GetCurrentVersions(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(versions); err == nil {
		if err := s.cache.Set(ctx, key, string(payload), s.ttl); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to cache vocabulary versions")
		}
	}

	return versions, nil
}

// IsValidCode reports whether code is a member of the domain's current version
func (s *Service) IsValidCode(ctx context.Context, tenantID string, domain string, code int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "vocab.Service.IsValidCode")
	defer span.End()

	codes, err := s.validCodes(ctx, tenantID, domain)
	if err != nil {
		return false, err
	}
	return codes[code], nil
}

func (s *Service) validCodes(ctx context.Context, tenantID string, domain string) (map[int]bool, error) {
	key := fmt.Sprintf("vocab:codes:%s:%s", tenantID, domain)
	if cached, err := s.cache.Get(ctx, key); err == nil && cached != "" {
		var codes []int
		if err := json.Unmarshal([]byte(cached), &codes); err == nil {
			return toSet(codes), nil
		}
	}

	codes, err := s.repo.GetValidCodes(ctx, tenantID, domain)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(codes); err == nil {
		if err := s.cache.Set(ctx, key, string(payload), s.ttl); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"domain": domain}).Warn("Failed to cache vocabulary codes")
		}
	}

	return toSet(codes), nil
}

func toSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}
	return set
}
