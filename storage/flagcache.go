package storage

import (
	"context"
	"time"

	"healthd/core"

	"github.com/patrickmn/go-cache"
)

// FlagCache keeps update flags in process memory with passive TTL expiry.
// Expired entries stop being visible on Get immediately; the janitor only
// reclaims memory. Suitable for single-instance deployments; multi-instance
// setups should use the flag tables of the SQL stores instead.
type FlagCache struct {
	c *cache.Cache
}

func NewFlagCache() *FlagCache {
	return &FlagCache{
		c: cache.New(core.UpdateFlagTTL, 10*time.Minute),
	}
}

func (f *FlagCache) SetFlag(ctx context.Context, userID string, flag *core.UpdateFlag, ttl time.Duration) error {
	f.c.Set(userID, flag, ttl)
	return nil
}

func (f *FlagCache) GetFlag(ctx context.Context, userID string) (*core.UpdateFlag, error) {
	v, ok := f.c.Get(userID)
	if !ok {
		return nil, core.ErrNotFound
	}
	return v.(*core.UpdateFlag), nil
}

func (f *FlagCache) DeleteFlag(ctx context.Context, userID string) error {
	f.c.Delete(userID)
	return nil
}
