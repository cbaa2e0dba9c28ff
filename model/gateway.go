package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/agentgraph/logging"
)

// RetryConfig bounds the gateway's retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts         uint          `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval     time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor" yaml:"randomization_factor"`
}

// DefaultRetryConfig allows three attempts with jittered exponential backoff.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     250 * time.Millisecond,
	MaxInterval:         5 * time.Second,
	Multiplier:          2,
	RandomizationFactor: 0.5,
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.RandomizationFactor
	return b
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Providers map[string]Model
	Rules     []Rule
	Retry     RetryConfig
	Logger    logging.Logger
}

// Gateway is the single entry point nodes use to talk to models. It selects
// a provider, drains the stream into one normalized Response and retries
// transient failures. A Gateway is safe for concurrent use.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]Model
	rules     []Rule
	retry     RetryConfig
	logger    *logging.ExecutionLogger
}

// NewGateway creates a gateway.
func NewGateway(optFns ...func(o *GatewayOptions)) *Gateway {
	opts := GatewayOptions{
		Providers: map[string]Model{},
		Retry:     DefaultRetryConfig,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = 1
	}
	providers := make(map[string]Model, len(opts.Providers))
	for name, m := range opts.Providers {
		providers[name] = m
	}
	return &Gateway{
		providers: providers,
		rules:     append([]Rule(nil), opts.Rules...),
		retry:     opts.Retry,
		logger:    logging.Wrap(opts.Logger).WithComponent("model.gateway"),
	}
}

// Register adds or replaces a provider.
func (g *Gateway) Register(name string, m Model) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[name] = m
}

// Providers returns the registered provider names, sorted.
func (g *Gateway) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers))
	for n := range g.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Gateway) provider(name string) (Model, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.providers[name]
	return m, ok
}

// Complete sends req to the selected provider and returns the aggregated
// response. Every failure is a *ProviderError; cancellation unwraps to the
// context error.
func (g *Gateway) Complete(ctx context.Context, req Request, sel Selector) (*Response, error) {
	name, err := Select(sel, req.Metadata, g.rules)
	if err != nil {
		return nil, err
	}
	m, ok := g.provider(name)
	if !ok {
		return nil, NewProviderError(name, Permanent, fmt.Errorf("%w: provider %q not registered", ErrNoProvider, name))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewProviderError(name, Permanent, err)
	}
	info := m.Info()

	start := time.Now()
	attempt := 0
	op := func() (*Response, error) {
		attempt++
		respCh, errCh := m.Generate(ctx, req)
		resp, err := Collect(ctx, respCh, errCh)
		if err != nil {
			pe := Classify(name, err)
			if !pe.Transient() || ctx.Err() != nil {
				return nil, backoff.Permanent(pe)
			}
			return nil, pe
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(g.retry.backOff()),
		backoff.WithMaxTries(g.retry.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn("model.complete.retry", "provider", name, "attempt", attempt, "backoff", next, "error", err)
		}),
	)
	if err != nil {
		pe := Classify(name, err)
		g.logger.LogLLMCall(name, info.Name, 0, time.Since(start), pe)
		return nil, pe
	}

	resp.Provider = name
	resp.Model = info.Name
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	g.logger.LogLLMCall(name, info.Name, tokens, time.Since(start), nil)
	return resp, nil
}
