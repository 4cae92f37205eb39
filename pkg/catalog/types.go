// Package catalog assembles point-in-time snapshots of media items from
// the configured media-management service and the play-statistics
// service. Snapshots are ephemeral: every evaluation pass requests a
// fresh listing and nothing here is persisted.
package catalog

import (
	"context"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// Snapshot is a possibly partial view of one media item at evaluation
// time. Optional fields are nil when the contributing service did not
// supply the datum; the evaluator treats a missing field referenced by a
// condition as "no match", never as an error.
type Snapshot struct {
	// ExternalID identifies the item within its media service instance.
	ExternalID string

	Title string
	Year  int

	// AddedAt is when the media service imported the item.
	AddedAt time.Time

	// LastWatchedAt is the most recent completed play, if any.
	LastWatchedAt *time.Time

	// PlayCount is the total completed plays. Nil when the statistics
	// service was unreachable (degraded pass), zero when genuinely
	// never played.
	PlayCount *int

	FileSizeBytes *int64
	Quality       string
	Rating        *float64

	LibraryID string
}

// NeverWatched reports whether the snapshot carries watch data showing
// zero plays. A degraded snapshot (nil PlayCount) is not "never watched".
func (s *Snapshot) NeverWatched() bool {
	return s.PlayCount != nil && *s.PlayCount == 0 && s.LastWatchedAt == nil
}

// Listing is one restartable snapshot sequence for a media type.
// Degraded is set when a contributing service could not be reached and
// the snapshots were assembled without its fields.
type Listing struct {
	Items    []Snapshot
	Degraded bool

	// ServiceID is the media service instance the items came from.
	ServiceID string
}

// Gateway produces snapshot listings and performs the concrete actions
// the executor needs. serviceID may be empty, meaning the active
// instance configured for the media type.
type Gateway interface {
	// ListItems assembles fresh snapshots for every item of the media
	// type. The listing is finite and rebuilt on every call.
	ListItems(ctx context.Context, mediaType rules.MediaType, serviceID string) (*Listing, error)

	// GetItem assembles a single snapshot, used by preview.
	GetItem(ctx context.Context, mediaType rules.MediaType, serviceID, externalID string) (*Snapshot, error)

	// DeleteItem removes the item and its files from the media service.
	DeleteItem(ctx context.Context, mediaType rules.MediaType, serviceID, externalID string) error

	// UnmonitorItem stops the media service from monitoring the item.
	UnmonitorItem(ctx context.Context, mediaType rules.MediaType, serviceID, externalID string) error
}
