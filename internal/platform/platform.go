// Package platform defines the narrow contract the settlement engine
// consumes from per-surface advertising adapters, plus the Telegram
// reference implementation.
package platform

import (
	"context"
	"fmt"
)

// PostMetrics is what an adapter can tell us about a published post.
// Counters are nil when the surface does not expose them.
type PostMetrics struct {
	Exists   bool
	Views    *int64
	Likes    *int64
	Comments *int64
}

type PublishedPost struct {
	PostID string
	URL    string
}

// Adapter is the per-surface contract. The engine never talks to a social
// platform except through it.
type Adapter interface {
	CanPost(ctx context.Context, channelID string) (bool, error)
	PublishPost(ctx context.Context, channelID, text string, mediaURL, mediaType *string) (*PublishedPost, error)
	FetchPostMetrics(ctx context.Context, channelID, postID string) (*PostMetrics, error)
	VerifyPostExists(ctx context.Context, channelID, postID string) (bool, error)
	VerifyUserAdmin(ctx context.Context, channelID string, userID int64) (bool, error)
}

// AdapterUnavailableError means the platform API itself failed; the deal is
// left untouched and retried on the next cycle.
type AdapterUnavailableError struct {
	Platform string
	Err      error
}

func (e *AdapterUnavailableError) Error() string {
	return fmt.Sprintf("platform %s unavailable: %v", e.Platform, e.Err)
}

func (e *AdapterUnavailableError) Unwrap() error { return e.Err }

// ForbiddenError means the channel owner's posting authority failed a
// re-check. Fatal to the current payout attempt.
type ForbiddenError struct {
	ChannelID string
	Reason    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden on channel %s: %s", e.ChannelID, e.Reason)
}
