package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"custodian-hq/custodian/pkg/catalog/playstats"
	"custodian-hq/custodian/pkg/catalog/servarr"
	"custodian-hq/custodian/pkg/rules"
	"custodian-hq/custodian/pkg/telemetry/tracing"
)

// GatewayError means the media service side of the catalog failed and
// no listing could be assembled at all.
type GatewayError struct {
	ServiceID string
	Cause     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("catalog gateway error [service=%s]: %v", e.ServiceID, e.Cause)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// UnknownServiceError means no media service instance is configured
// under the requested identifier.
type UnknownServiceError struct {
	ServiceID string
	MediaType rules.MediaType
}

func (e *UnknownServiceError) Error() string {
	if e.ServiceID != "" {
		return fmt.Sprintf("unknown media service: %s", e.ServiceID)
	}
	return fmt.Sprintf("no media service configured for media type: %s", e.MediaType)
}

// Service implements Gateway over a set of servarr instances and one
// watch-activity service. The playstats client may be nil, in which
// case every listing is degraded.
type Service struct {
	clients   map[string]*servarr.Client
	defaults  map[rules.MediaType]string
	playstats *playstats.Client
	logger    *slog.Logger
	tracer    *tracing.Tracer
}

// NewService assembles a catalog gateway. defaults maps each media type
// to the service ID used when a rule does not pin one.
func NewService(clients map[string]*servarr.Client, defaults map[rules.MediaType]string, stats *playstats.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clients:   clients,
		defaults:  defaults,
		playstats: stats,
		logger:    logger,
	}
}

// WithTracer attaches a tracer and returns the service. Every media
// service and playstats call gets its own span.
func (s *Service) WithTracer(t *tracing.Tracer) *Service {
	s.tracer = t
	return s
}

// ListItems assembles fresh snapshots for every item of the media type.
// A media service failure aborts the listing; a watch-activity failure
// degrades it.
func (s *Service) ListItems(ctx context.Context, mediaType rules.MediaType, serviceID string) (*Listing, error) {
	client, resolvedID, err := s.resolve(mediaType, serviceID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "servarr.list", trace.WithAttributes(
		attribute.String("service.id", resolvedID),
		attribute.String("media.type", string(mediaType)),
	))
	defer span.End()

	items, err := client.ListItems(ctx, mediaType)
	if err != nil {
		span.RecordError(err)
		return nil, &GatewayError{ServiceID: resolvedID, Cause: err}
	}

	listing := &Listing{
		Items:     make([]Snapshot, 0, len(items)),
		ServiceID: resolvedID,
	}

	activity, degraded := s.watchActivity(ctx, mediaType)
	listing.Degraded = degraded

	for _, item := range items {
		snap := toSnapshot(item)
		if !degraded {
			applyActivity(&snap, activity)
		}
		listing.Items = append(listing.Items, snap)
	}

	return listing, nil
}

// GetItem assembles a single snapshot, used by preview.
func (s *Service) GetItem(ctx context.Context, mediaType rules.MediaType, serviceID, externalID string) (*Snapshot, error) {
	client, resolvedID, err := s.resolve(mediaType, serviceID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "servarr.get", trace.WithAttributes(
		attribute.String("service.id", resolvedID),
		attribute.String("media.type", string(mediaType)),
		attribute.String("media.external_id", externalID),
	))
	defer span.End()

	item, err := client.GetItem(ctx, mediaType, externalID)
	if err != nil {
		span.RecordError(err)
		return nil, &GatewayError{ServiceID: resolvedID, Cause: err}
	}

	snap := toSnapshot(*item)
	activity, degraded := s.watchActivity(ctx, mediaType)
	if !degraded {
		applyActivity(&snap, activity)
	}
	return &snap, nil
}

// DeleteItem removes the item and its files from the media service.
func (s *Service) DeleteItem(ctx context.Context, mediaType rules.MediaType, serviceID, externalID string) error {
	client, resolvedID, err := s.resolve(mediaType, serviceID)
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "servarr.delete", trace.WithAttributes(
		attribute.String("service.id", resolvedID),
		attribute.String("media.type", string(mediaType)),
		attribute.String("media.external_id", externalID),
	))
	defer span.End()

	if err := client.Delete(ctx, mediaType, externalID, true); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// UnmonitorItem stops the media service from monitoring the item.
func (s *Service) UnmonitorItem(ctx context.Context, mediaType rules.MediaType, serviceID, externalID string) error {
	client, resolvedID, err := s.resolve(mediaType, serviceID)
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "servarr.unmonitor", trace.WithAttributes(
		attribute.String("service.id", resolvedID),
		attribute.String("media.type", string(mediaType)),
		attribute.String("media.external_id", externalID),
	))
	defer span.End()

	if err := client.Unmonitor(ctx, mediaType, externalID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *Service) resolve(mediaType rules.MediaType, serviceID string) (*servarr.Client, string, error) {
	id := serviceID
	if id == "" {
		id = s.defaults[mediaType]
	}
	client, ok := s.clients[id]
	if !ok || client == nil {
		return nil, "", &UnknownServiceError{ServiceID: serviceID, MediaType: mediaType}
	}
	return client, id, nil
}

// watchActivity fetches watch summaries for the media type. Series
// activity is tracked per episode by the statistics service, so
// series-level rules aggregate over the episodes: the series play count
// is the highest episode play count and the last-watched time is the
// latest across episodes.
func (s *Service) watchActivity(ctx context.Context, mediaType rules.MediaType) (map[string]playstats.Activity, bool) {
	if s.playstats == nil {
		return nil, true
	}

	queryType := mediaType
	if mediaType == rules.MediaTypeTvSeries {
		queryType = rules.MediaTypeEpisode
	}

	ctx, span := s.tracer.Start(ctx, "playstats.activity", trace.WithAttributes(
		attribute.String("media.type", string(queryType)),
	))
	defer span.End()

	activity, err := s.playstats.WatchActivity(ctx, queryType)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("watch-activity service unavailable, listing degraded",
			"media_type", mediaType,
			"error", err,
		)
		return nil, true
	}

	if mediaType != rules.MediaTypeTvSeries {
		return activity, false
	}

	bySeries := make(map[string]playstats.Activity)
	for _, episode := range activity {
		if episode.SeriesID == "" {
			continue
		}
		agg := bySeries[episode.SeriesID]
		agg.ExternalID = episode.SeriesID
		if episode.PlayCount > agg.PlayCount {
			agg.PlayCount = episode.PlayCount
		}
		if episode.LastWatchedAt != nil &&
			(agg.LastWatchedAt == nil || episode.LastWatchedAt.After(*agg.LastWatchedAt)) {
			agg.LastWatchedAt = episode.LastWatchedAt
		}
		bySeries[episode.SeriesID] = agg
	}
	return bySeries, false
}

func toSnapshot(item servarr.Item) Snapshot {
	snap := Snapshot{
		ExternalID: strconv.FormatInt(item.ID, 10),
		Title:      item.Title,
		Year:       item.Year,
		AddedAt:    item.Added,
		Quality:    item.QualityName,
		Rating:     item.Rating,
		LibraryID:  item.RootFolder,
	}
	if item.SizeBytes > 0 {
		size := item.SizeBytes
		snap.FileSizeBytes = &size
	}
	return snap
}

func applyActivity(snap *Snapshot, activity map[string]playstats.Activity) {
	a, ok := activity[snap.ExternalID]
	if !ok {
		// Tracked library, item simply never played.
		zero := 0
		snap.PlayCount = &zero
		return
	}
	count := a.PlayCount
	snap.PlayCount = &count
	snap.LastWatchedAt = a.LastWatchedAt
}
