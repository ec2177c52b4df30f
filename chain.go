package fscrypt

import (
	"context"
	"errors"
	"fmt"
)

// ChainKeyProvider tries multiple key providers in order. A provider that
// does not hold the key passes to the next one; any other error stops the
// chain. This is useful during key migration, with the new provider first.
type ChainKeyProvider struct {
	providers []KeyProvider
}

// NewChainKeyProvider creates a new chained key provider
func NewChainKeyProvider(providers ...KeyProvider) (*ChainKeyProvider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one key provider required")
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("key provider %d: %w", i, ErrNilKeyProvider)
		}
	}
	return &ChainKeyProvider{providers: providers}, nil
}

// LookupKey returns the first key any provider holds
func (c *ChainKeyProvider) LookupKey(ctx context.Context, id KeyIdentifier) ([]byte, error) {
	for _, provider := range c.providers {
		key, err := provider.LookupKey(ctx, id)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s (tried %d providers)", ErrKeyNotFound, id, len(c.providers))
}
