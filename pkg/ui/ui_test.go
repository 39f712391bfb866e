package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/models"
)

type recordingSender struct {
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func TestNotifierPrintsAndSends(t *testing.T) {
	var out bytes.Buffer
	sender := &recordingSender{}
	n := NewNotifierWithSender(sender, &out)

	require.NoError(t, n.Notify("Crawl complete", "42 profiles"))
	require.NoError(t, n.Error("Start failed", "no active tab"))

	assert.Equal(t, []string{"Crawl complete", "Start failed"}, sender.titles)
	assert.Contains(t, out.String(), "42 profiles")
	assert.Contains(t, out.String(), "no active tab")
}

func TestNotifierWithoutSender(t *testing.T) {
	var out bytes.Buffer
	n := NewNotifierWithSender(nil, &out)
	assert.NoError(t, n.Success("done", "ok"))
	assert.Contains(t, out.String(), "ok")
}

func TestNotifierReturnsSenderError(t *testing.T) {
	n := NewNotifierWithSender(&recordingSender{err: errors.New("notify-send missing")}, &bytes.Buffer{})
	assert.Error(t, n.Notify("t", "m"))
}

func TestAppleScriptEscape(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, appleScriptEscape(`say "hi" \ bye`))
}

func TestFormatRecord(t *testing.T) {
	ok := models.ProfileRecord{
		ProfileID: "https://www.instagram.com/alice/",
		Suggester: "https://www.instagram.com/root/",
		ProfileData: models.ProfileData{
			Username:      "alice",
			FollowerCount: "1,204",
			BioLinks:      []string{"https://alice.dev"},
		},
		Discovered: []models.WorkItem{{ID: "b"}, {ID: "c"}},
	}
	line := FormatRecord(ok)
	assert.Contains(t, line, "alice")
	assert.Contains(t, line, "1,204")
	assert.Contains(t, line, "2 suggested")
	assert.Contains(t, line, "https://alice.dev")
	assert.Contains(t, line, "via @root")

	failed := models.ProfileRecord{
		ProfileID: "https://www.instagram.com/bob/",
		Failed:    true,
		ErrorType: "extraction_timeout",
	}
	line = FormatRecord(failed)
	assert.Contains(t, line, "@bob")
	assert.Contains(t, line, "extraction_timeout")
}

func TestPrintRecordsWithTrace(t *testing.T) {
	var out bytes.Buffer
	PrintRecords(&out, []models.ProfileRecord{
		{ProfileID: "https://www.instagram.com/a/", Failed: true, ErrorType: "extraction_failure", Trace: []string{"follow button missing"}},
		{ProfileID: "https://www.instagram.com/b/", ProfileData: models.ProfileData{Username: "b"}},
	}, true)

	assert.Contains(t, out.String(), "follow button missing")
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestCrawlProgress(t *testing.T) {
	var out bytes.Buffer
	p := NewCrawlProgress(&out, false)

	p.RecordAppended(models.ProfileRecord{ProfileData: models.ProfileData{Username: "alice"}, Discovered: []models.WorkItem{{ID: "x"}}})
	p.RecordAppended(models.ProfileRecord{ProfileData: models.ProfileData{Username: "bob"}, Failed: true})

	done, failed := p.Counts()
	assert.Equal(t, 2, done)
	assert.Equal(t, 1, failed)

	line := p.Line(2, 5, 7)
	assert.Contains(t, line, "2 crawled")
	assert.Contains(t, line, "2/5")
	assert.Contains(t, line, "7 queued")
	assert.Contains(t, line, "@bob")
	assert.Contains(t, line, "1 failed")

	p.Drained()
	p.Complete()
	assert.Contains(t, out.String(), "✓")
	assert.Contains(t, out.String(), "Crawled 2 profiles")
	assert.Contains(t, out.String(), "1 suggested profiles discovered")
}

func TestCrawlProgressDebugPrintsEachRecord(t *testing.T) {
	var out bytes.Buffer
	p := NewCrawlProgress(&out, true)
	p.RecordAppended(models.ProfileRecord{ProfileData: models.ProfileData{Username: "alice"}})
	p.Update(1, 2, 3)
	assert.Contains(t, out.String(), "alice")
	assert.NotContains(t, out.String(), "[CRAWLING]")
}

func TestTabBarClampsOverflow(t *testing.T) {
	assert.Contains(t, tabBar(4, 2), "2/2")
}
