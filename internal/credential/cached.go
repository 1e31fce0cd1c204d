package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/token"
)

// DefaultRefreshSkew is how long before exp a cached credential is refreshed.
const DefaultRefreshSkew = 30 * time.Second

// Cached reuses the credential returned by Source until shortly before its exp claim.
// Concurrent callers share one refresh. Credentials that are not JWTs are cached for
// MaxAge, or not at all when MaxAge is zero.
type Cached struct {
	Source Source
	Skew   time.Duration
	MaxAge time.Duration

	now func() time.Time

	mu        sync.Mutex
	value     string
	expiresAt time.Time
	group     singleflight.Group
}

// NewCached wraps src with DefaultRefreshSkew.
func NewCached(src Source) *Cached {
	return &Cached{Source: src, Skew: DefaultRefreshSkew}
}

func (c *Cached) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Cached) Credential(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.value != "" && c.clock().Before(c.expiresAt) {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("credential", func() (any, error) {
		cred, err := c.Source.Credential(ctx)
		if err != nil {
			return "", err
		}
		if err = c.store(cred); err != nil {
			return "", err
		}
		return cred, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached value, e.g. after the server rejected it.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.value = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// store caches cred. A JWT whose exp has already passed is an absent credential.
func (c *Cached) store(cred string) error {
	now := c.clock()
	expiresAt := time.Time{}
	if decoded, err := token.Decode(cred); err == nil {
		if decoded.Payload.Expired(now) {
			c.Invalidate()
			return fmt.Errorf("%w: token expired at %s", ErrNoCredential, decoded.Payload.ExpiresAt().Format(time.RFC3339))
		}
		if exp := decoded.Payload.ExpiresAt(); !exp.IsZero() {
			expiresAt = exp.Add(-c.Skew)
		}
		log.Debugf("credential refreshed: %s", token.Describe(cred))
	}
	if expiresAt.IsZero() && c.MaxAge > 0 {
		expiresAt = now.Add(c.MaxAge)
	}

	c.mu.Lock()
	c.value = cred
	c.expiresAt = expiresAt
	c.mu.Unlock()
	return nil
}
