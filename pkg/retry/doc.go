// Package retry provides backoff and retry logic for transient failures
// when talking to the browser host (opening tabs) and to result stores.
//
// Basic usage:
//
//	handle, err := retry.DoWithResult(func() (scheduler.TabHandle, error) {
//		return host.OpenTab(ctx, item.ID)
//	}, retry.ForAttempts(ctx, 3, log))
//
// DefaultRetryIf retries errors typed as browser, network or storage
// failures and any untyped error, and never retries context cancellation
// or the crawler's terminal error kinds (invalid seed, extraction failure,
// ...).
package retry
