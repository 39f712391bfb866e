package scheduler

import (
	"context"

	"igcrawler/pkg/models"
)

// TabHandle identifies a browser tab owned by the host
type TabHandle string

// TabHost is the browser runtime the scheduler drives. Every method may
// block; the scheduler never calls them while holding its lock.
type TabHost interface {
	// ActiveTabURL returns the URL of the tab the operator is looking at
	ActiveTabURL(ctx context.Context) (string, error)
	// OpenTab opens url in a new background tab
	OpenTab(ctx context.Context, url string) (TabHandle, error)
	// TabLoaded reports whether the tab has finished loading. A closed or
	// unknown tab is an error.
	TabLoaded(ctx context.Context, h TabHandle) (bool, error)
	// Inject starts the extraction task in the tab. The task reports back
	// through Scheduler.Complete.
	Inject(ctx context.Context, h TabHandle, sc models.ScriptContext) error
	CloseTab(ctx context.Context, h TabHandle) error
}

// RecordStore receives one record per resolved task
type RecordStore interface {
	AppendRecord(ctx context.Context, rec models.ProfileRecord) error
}

// Listener is told about records and about the crawl running dry
type Listener interface {
	RecordAppended(rec models.ProfileRecord)
	Drained()
}
