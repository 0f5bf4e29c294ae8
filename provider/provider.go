// Package provider defines the boundary between the caching/resilience core
// and the cloud billing SDK wrappers that feed it: the normalized cost data
// shape every provider client must return, and the error taxonomy the
// retry logic classifies failures by.
package provider

import (
	"context"
	"time"
)

// Granularity of a cost-and-usage query.
const (
	GranularityDaily   = "DAILY"
	GranularityMonthly = "MONTHLY"
)

// CostQuery identifies one cost-and-usage request against one provider.
// Its fields are exactly what cache keys are derived from: two queries with
// equal fields are the same data.
type CostQuery struct {
	Provider    string
	Start       time.Time
	End         time.Time
	Service     string // optional filter
	Region      string // optional filter
	Granularity string
}

// ServiceCost is the spend attributed to one service in one region.
type ServiceCost struct {
	Service  string  `msgpack:"service"`
	Region   string  `msgpack:"region,omitempty"`
	Amount   float64 `msgpack:"amount"`
	Currency string  `msgpack:"currency"`
}

// CostData is the normalized result every provider client returns,
// whatever shape the underlying billing API uses.
type CostData struct {
	Provider  string        `msgpack:"provider"`
	Start     time.Time     `msgpack:"start"`
	End       time.Time     `msgpack:"end"`
	Currency  string        `msgpack:"currency"`
	Total     float64       `msgpack:"total"`
	Services  []ServiceCost `msgpack:"services"`
	FetchedAt time.Time     `msgpack:"fetched_at"`
}

// CallFunc is the underlying operation the resilient fetcher wraps: one
// cost-and-usage fetch against one provider's billing API. Implementations
// must honor ctx cancellation and return a classified *Error on failure.
type CallFunc func(ctx context.Context) (*CostData, error)
