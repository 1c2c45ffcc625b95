// Package model contains struct definitions shared between the search client,
// the API layer, and the workers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies one creator platform the discovery pipeline can search.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformWeb       Platform = "web"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformInstagram, PlatformTikTok, PlatformTwitter, PlatformWeb}
}

// ParsePlatform validates a platform name supplied by a client or the CLI.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// JobStatus describes the server-side search job lifecycle. The pipeline only
// ever moves forward: queued -> running -> enriching -> processing and then
// into exactly one of the terminal states.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobEnriching  JobStatus = "enriching"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobTimeout    JobStatus = "timeout"
)

// Terminal reports whether no further transition can occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobDone, JobFailed, JobTimeout:
		return true
	}
	return false
}

// Affiliate is one discovered creator or website candidate.
type Affiliate struct {
	Name           string   `json:"name"`
	URL            string   `json:"url"`
	Platform       Platform `json:"platform"`
	Followers      int64    `json:"followers"`
	EngagementRate float64  `json:"engagementRate"`
	ContactEmail   string   `json:"contactEmail,omitempty"`
	MatchedKeyword string   `json:"matchedKeyword,omitempty"`
}

// SearchJob holds everything the backend tracks about one discovery run.
// Results stay empty until the job reaches JobDone.
type SearchJob struct {
	ID          int64          `json:"id"`
	Keywords    []string       `json:"keywords"`
	Sources     []Platform     `json:"sources"`
	Competitors []string       `json:"competitors,omitempty"`
	Status      JobStatus      `json:"status"`
	Message     string         `json:"message,omitempty"`
	Results     []Affiliate    `json:"results,omitempty"`
	Breakdown   map[string]int `json:"breakdown,omitempty"`
	ArchiveKey  string         `json:"-"`
	StartedAt   time.Time      `json:"startedAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ElapsedSeconds reports whole seconds since the job started, clamped at the
// final update once the job is terminal.
func (j *SearchJob) ElapsedSeconds() int {
	end := time.Now().UTC()
	if j.Status.Terminal() && !j.UpdatedAt.IsZero() {
		end = j.UpdatedAt
	}
	d := end.Sub(j.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Cost returns the credit cost of a search: one credit per keyword/source
// pair, competitors ride along for free.
func Cost(keywords []string, sources []Platform) int {
	return len(keywords) * len(sources)
}
