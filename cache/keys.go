package cache

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DateLayout is the day granularity used in cost-data cache keys.
const DateLayout = "2006-01-02"

// CostDataKey builds the cache key for a provider's cost-and-usage query.
// Format: cost_data:{provider}:{start}:{end}[:service_X][:region_Y].
// The same query always yields the same key, so all tiers agree on identity.
func CostDataKey(provider string, start, end time.Time, service, region string) string {
	parts := []string{"cost_data", provider, start.Format(DateLayout), end.Format(DateLayout)}
	if service != "" {
		parts = append(parts, "service_"+service)
	}
	if region != "" {
		parts = append(parts, "region_"+region)
	}
	return strings.Join(parts, ":")
}

// AnalysisKey builds the cache key for a derived analysis result. Params are
// folded into the key as a hash so arbitrary filter sets stay within key
// length limits; params are serialized in sorted order so map iteration
// order cannot change the key.
func AnalysisKey(provider, kind string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, params[k])
	}
	return fmt.Sprintf("analysis:%s:%s:%016x", provider, kind, h.Sum64())
}

// ConnectionStatusKey builds the cache key for a provider's connectivity
// probe result.
func ConnectionStatusKey(provider string) string {
	return "connection_status:" + provider
}
