// Package discovery defines the interface to the scraping/enrichment
// pipeline and a deterministic synthetic implementation. The real pipeline is
// a third-party service and stays opaque to this repository; everything
// downstream only sees the Provider contract.
package discovery

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"affiliatescout/internal/model"
)

// Provider runs the two remote stages of a discovery job.
type Provider interface {
	// Discover returns raw candidates for one keyword on one platform.
	Discover(ctx context.Context, keyword string, platform model.Platform) ([]model.Affiliate, error)
	// Enrich fills contact and engagement data on raw candidates.
	Enrich(ctx context.Context, candidates []model.Affiliate) ([]model.Affiliate, error)
}

// Synthetic is a deterministic Provider used by the standalone server and
// the tests. Candidates are derived from a hash of keyword and platform so
// repeated runs agree, and each stage sleeps Latency to mimic the 40-95s
// remote pipeline at a configurable scale.
type Synthetic struct {
	Latency         time.Duration
	ResultsPerQuery int
	// FailKeyword forces a pipeline failure when matched, so failure paths
	// are reachable in dev and tests.
	FailKeyword string
}

func (s *Synthetic) Discover(ctx context.Context, keyword string, platform model.Platform) ([]model.Affiliate, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.FailKeyword != "" && strings.EqualFold(keyword, s.FailKeyword) {
		return nil, fmt.Errorf("discovery backend rejected keyword %q", keyword)
	}
	n := s.ResultsPerQuery
	if n <= 0 {
		n = 3
	}
	seed := hash(keyword + ":" + string(platform))
	out := make([]model.Affiliate, 0, n)
	for i := 0; i < n; i++ {
		v := seed + uint32(i)*2654435761
		out = append(out, model.Affiliate{
			Name:           fmt.Sprintf("%s-creator-%04d", platform, v%10000),
			URL:            fmt.Sprintf("https://%s.example/%s/%d", platform, keyword, v%10000),
			Platform:       platform,
			Followers:      int64(1000 + v%500000),
			EngagementRate: float64(v%80)/10 + 0.5,
			MatchedKeyword: keyword,
		})
	}
	return out, nil
}

func (s *Synthetic) Enrich(ctx context.Context, candidates []model.Affiliate) ([]model.Affiliate, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	enriched := make([]model.Affiliate, len(candidates))
	for i, c := range candidates {
		c.ContactEmail = fmt.Sprintf("partnerships@%s%d.example", c.Platform, hash(c.URL)%1000)
		enriched[i] = c
	}
	return enriched, nil
}

func (s *Synthetic) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.Latency):
		return nil
	}
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Consolidate dedupes candidates by URL, ranks them by follower count, and
// builds the per-platform breakdown reported to clients.
func Consolidate(candidates []model.Affiliate) ([]model.Affiliate, map[string]int) {
	seen := make(map[string]bool, len(candidates))
	out := make([]model.Affiliate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Followers > out[j].Followers })
	breakdown := make(map[string]int)
	for _, c := range out {
		breakdown[string(c.Platform)]++
	}
	return out, breakdown
}
