package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/singleflight"
)

// EncoderCache caches tiktoken encoders per model name for the process
// lifetime. It is an explicit object so tests and embedders can inject their
// own; concurrent first access for the same model shares one load.
type EncoderCache struct {
	mu       sync.RWMutex
	encoders map[string]*tiktoken.Tiktoken
	group    singleflight.Group
}

var (
	defaultCache     *EncoderCache
	defaultCacheOnce sync.Once
)

// DefaultEncoderCache returns the shared process-wide cache.
func DefaultEncoderCache() *EncoderCache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewEncoderCache()
	})
	return defaultCache
}

// NewEncoderCache creates an empty cache.
func NewEncoderCache() *EncoderCache {
	return &EncoderCache{
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// Get returns the encoder for a model, loading it at most once. Model names
// tiktoken does not recognise resolve to the cl100k_base encoding.
func (c *EncoderCache) Get(model string) (*tiktoken.Tiktoken, error) {
	c.mu.RLock()
	enc, ok := c.encoders[model]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	v, err, _ := c.group.Do(model, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.encoders[model]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		loaded, err := loadEncoder(model)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.encoders[model] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tiktoken.Tiktoken), nil
}

func loadEncoder(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	// try the model string as an encoding name before falling back
	if enc, err = tiktoken.GetEncoding(model); err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}
