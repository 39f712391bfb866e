// Package ratelimit paces how fast the crawler opens new browser tabs.
//
// The tab scheduler already bounds how many tabs are open at once; a
// Limiter additionally bounds how many are opened per unit of time, so a
// fast-resolving frontier does not hammer the site.
//
// Available Implementations:
//
// Sliding Window (default, see New):
//   - Tracks opens within a moving time window
//   - Smooth pacing for a steady stream of profiles
//
// Unlimited:
//   - Never blocks; used when tabs_per_minute is 0
//
// Usage:
//
//	limiter := ratelimit.New(cfg.Crawler.TabsPerMinute)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
//	// open the tab
package ratelimit
