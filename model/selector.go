package model

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule routes requests whose metadata value under MetadataKey matches the
// doublestar Pattern to Provider.
type Rule struct {
	MetadataKey string `mapstructure:"metadata_key" yaml:"metadata_key" validate:"required"`
	Pattern     string `mapstructure:"pattern" yaml:"pattern" validate:"required"`
	Provider    string `mapstructure:"provider" yaml:"provider" validate:"required"`
}

// Matches reports whether the rule applies to metadata.
func (r Rule) Matches(metadata map[string]string) bool {
	v, ok := metadata[r.MetadataKey]
	if !ok {
		return false
	}
	matched, err := doublestar.Match(r.Pattern, v)
	return err == nil && matched
}

// Selector picks the provider for one request. An explicit Provider wins;
// otherwise Rules are tried in order, followed by the gateway's own rules.
type Selector struct {
	Provider string
	Rules    []Rule
}

// Select resolves the provider name for metadata. It is a pure function of
// its inputs; no match yields a permanent ErrNoProvider.
func Select(sel Selector, metadata map[string]string, rules []Rule) (string, error) {
	if sel.Provider != "" {
		return sel.Provider, nil
	}
	for _, set := range [][]Rule{sel.Rules, rules} {
		for _, r := range set {
			if r.Matches(metadata) {
				return r.Provider, nil
			}
		}
	}
	return "", NewProviderError("", Permanent, fmt.Errorf("%w (metadata=%v)", ErrNoProvider, metadata))
}

// ValidatePattern reports a malformed rule pattern.
func (r Rule) ValidatePattern() error {
	if !doublestar.ValidatePattern(r.Pattern) {
		return fmt.Errorf("invalid pattern %q for metadata key %q", r.Pattern, r.MetadataKey)
	}
	return nil
}
