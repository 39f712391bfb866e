package models

import (
	"net/url"
	"strings"
	"time"
)

// WorkItem is a queued unit of crawl work: one profile page
type WorkItem struct {
	// ID is the canonical profile URL and the deduplication key
	ID string `json:"url"`
	// Origin is the profile that suggested this one, for display only
	Origin string `json:"suggester,omitempty"`
}

// ProfileData is the metadata an extraction task reads from a profile page
type ProfileData struct {
	Username        string   `json:"user,omitempty"`
	ProfileImageURL string   `json:"profileImageUrl,omitempty"`
	FollowerCount   string   `json:"followerCount,omitempty"`
	BioLinks        []string `json:"bioLinkUrls,omitempty"`
}

// TaskResult is what an extraction task reports through the complete signal
type TaskResult struct {
	Profile    ProfileData `json:"record"`
	Discovered []WorkItem  `json:"discoveredItems,omitempty"`
	Error      string      `json:"error,omitempty"`
	Trace      []string    `json:"trace,omitempty"`
}

// Failed reports whether the task itself flagged a failure
func (r TaskResult) Failed() bool {
	return r.Error != ""
}

// ProfileRecord is the persisted, append-only outcome of one extraction task
type ProfileRecord struct {
	ID        string `json:"id"`
	ProfileID string `json:"url"`
	Suggester string `json:"suggester,omitempty"`
	ProfileData
	Discovered  []WorkItem `json:"suggestedProfiles,omitempty"`
	Failed      bool       `json:"failed"`
	ErrorType   string     `json:"errorType,omitempty"`
	Error       string     `json:"error,omitempty"`
	Trace       []string   `json:"logs,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt time.Time  `json:"completedAt"`
}

// ScriptContext is forwarded to an extraction task once its tab has loaded
type ScriptContext struct {
	EnableStackTrace bool   `json:"enableStackTrace"`
	Suggester        string `json:"suggester,omitempty"`
}

// Settings mirrors the operator-adjustable scheduler settings
type Settings struct {
	MaxTabs int  `json:"maxTabs"`
	DevMode bool `json:"devMode"`
}

// FrontierSnapshot is a serialisable copy of the frontier state
type FrontierSnapshot struct {
	Queue   []WorkItem `json:"queue"`
	Visited []string   `json:"visited"`
}

// UsernameFromURL extracts the profile handle from a profile URL
func UsernameFromURL(profileURL string) string {
	u, err := url.Parse(profileURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[:i]
	}
	return path
}
