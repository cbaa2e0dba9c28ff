// Package model defines the provider‑agnostic abstractions for talking to
// language models, and the Gateway nodes use to reach them.
//
// Providers (see the openai and anthropic subpackages) implement Model, a
// streaming channel interface. The Gateway selects a provider from request
// metadata, drains the stream into one normalized Response and retries
// transient failures with jittered exponential backoff. Every failure leaving
// the gateway is a *ProviderError classified as transient or permanent.
//
//	gw := model.NewGateway(func(o *model.GatewayOptions) {
//	    o.Providers["openai"] = openai.NewModel()
//	    o.Rules = []model.Rule{{MetadataKey: "tier", Pattern: "*", Provider: "openai"}}
//	})
//	resp, err := gw.Complete(ctx, req, model.Selector{})
package model
