// Package servarr is an HTTP client for Radarr- and Sonarr-compatible
// media managers (API v3). It covers the small surface the maintenance
// engine needs: listing the library, deleting items with their files,
// and toggling monitoring.
package servarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// Item is one library entry as the media manager reports it. Fields
// that the manager does not track for a given resource stay at their
// zero value.
type Item struct {
	ID          int64
	Title       string
	Year        int
	Added       time.Time
	SizeBytes   int64
	QualityName string
	Rating      *float64

	// RootFolder is used as the library identifier.
	RootFolder string

	// SeriesID links an episode to its series. Zero for other types.
	SeriesID int64
}

// Client talks to one Radarr or Sonarr instance.
type Client struct {
	base      string
	apiKey    string
	serviceID string
	http      *http.Client
}

// Config configures a servarr client.
type Config struct {
	// ServiceID is the operator-assigned identifier of this instance.
	ServiceID string

	// BaseURL is the instance root, e.g. "http://radarr:7878".
	BaseURL string

	// APIKey is sent on every request in the X-Api-Key header.
	APIKey string

	// Timeout bounds each request. Default: 30 seconds.
	Timeout time.Duration
}

// New creates a client for one media manager instance.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		serviceID: cfg.ServiceID,
		http:      &http.Client{Timeout: timeout},
	}
}

// ServiceID returns the operator-assigned identifier of this instance.
func (c *Client) ServiceID() string {
	return c.serviceID
}

// ListItems returns the full library for the given media type.
// Episodes are collected series by series, which is how the Sonarr API
// exposes them.
func (c *Client) ListItems(ctx context.Context, mediaType rules.MediaType) ([]Item, error) {
	switch mediaType {
	case rules.MediaTypeMovie:
		return c.listMovies(ctx)
	case rules.MediaTypeTvSeries:
		return c.listSeries(ctx)
	case rules.MediaTypeEpisode:
		return c.listEpisodes(ctx)
	default:
		return nil, fmt.Errorf("unsupported media type: %s", mediaType)
	}
}

// GetItem returns a single library entry by its external ID.
func (c *Client) GetItem(ctx context.Context, mediaType rules.MediaType, externalID string) (*Item, error) {
	endpoint, err := resourcePath(mediaType, externalID)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	item, err := decodeItem(mediaType, raw)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Cause: err}
	}
	return item, nil
}

// Delete removes the item. When deleteFiles is set the media manager
// also removes the files on disk.
func (c *Client) Delete(ctx context.Context, mediaType rules.MediaType, externalID string, deleteFiles bool) error {
	endpoint, err := resourcePath(mediaType, externalID)
	if err != nil {
		return err
	}
	endpoint += "?deleteFiles=" + strconv.FormatBool(deleteFiles) + "&addImportExclusion=false"

	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Unmonitor clears the monitored flag on the item. The media manager's
// API takes a full object on PUT, so the item is fetched, patched, and
// written back.
func (c *Client) Unmonitor(ctx context.Context, mediaType rules.MediaType, externalID string) error {
	endpoint, err := resourcePath(mediaType, externalID)
	if err != nil {
		return err
	}

	var obj map[string]any
	if err := c.get(ctx, endpoint, &obj); err != nil {
		return err
	}
	obj["monitored"] = false

	body, err := json.Marshal(obj)
	if err != nil {
		return &RequestError{Endpoint: endpoint, Cause: err}
	}
	return c.do(ctx, http.MethodPut, endpoint, bytes.NewReader(body), nil)
}

func (c *Client) listMovies(ctx context.Context) ([]Item, error) {
	var payload []movieResource
	if err := c.get(ctx, "/api/v3/movie", &payload); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(payload))
	for _, m := range payload {
		items = append(items, m.toItem())
	}
	return items, nil
}

func (c *Client) listSeries(ctx context.Context) ([]Item, error) {
	var payload []seriesResource
	if err := c.get(ctx, "/api/v3/series", &payload); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(payload))
	for _, s := range payload {
		items = append(items, s.toItem())
	}
	return items, nil
}

func (c *Client) listEpisodes(ctx context.Context) ([]Item, error) {
	series, err := c.listSeries(ctx)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, s := range series {
		var payload []episodeResource
		endpoint := "/api/v3/episode?seriesId=" + strconv.FormatInt(s.ID, 10)
		if err := c.get(ctx, endpoint, &payload); err != nil {
			return nil, err
		}
		for _, e := range payload {
			if !e.HasFile {
				continue
			}
			item := e.toItem()
			item.RootFolder = s.RootFolder
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, body)
	if err != nil {
		return &RequestError{Endpoint: endpoint, Cause: err}
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Endpoint: endpoint, Cause: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &APIError{
			StatusCode: res.StatusCode,
			Endpoint:   endpoint,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &RequestError{Endpoint: endpoint, Cause: err}
	}
	return nil
}

func resourcePath(mediaType rules.MediaType, externalID string) (string, error) {
	var resource string
	switch mediaType {
	case rules.MediaTypeMovie:
		resource = "movie"
	case rules.MediaTypeTvSeries:
		resource = "series"
	case rules.MediaTypeEpisode:
		resource = "episode"
	default:
		return "", fmt.Errorf("unsupported media type: %s", mediaType)
	}
	return "/api/v3/" + resource + "/" + externalID, nil
}

func decodeItem(mediaType rules.MediaType, raw json.RawMessage) (*Item, error) {
	switch mediaType {
	case rules.MediaTypeMovie:
		var m movieResource
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		item := m.toItem()
		return &item, nil
	case rules.MediaTypeTvSeries:
		var s seriesResource
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		item := s.toItem()
		return &item, nil
	case rules.MediaTypeEpisode:
		var e episodeResource
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		item := e.toItem()
		return &item, nil
	default:
		return nil, fmt.Errorf("unsupported media type: %s", mediaType)
	}
}

// movieResource is the subset of the Radarr movie payload the engine
// reads.
type movieResource struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Year           int       `json:"year"`
	Added          time.Time `json:"added"`
	SizeOnDisk     int64     `json:"sizeOnDisk"`
	RootFolderPath string    `json:"rootFolderPath"`
	MovieFile      *struct {
		Quality struct {
			Quality struct {
				Name string `json:"name"`
			} `json:"quality"`
		} `json:"quality"`
	} `json:"movieFile"`
	Ratings *struct {
		Value float64 `json:"value"`
		Votes int     `json:"votes"`
	} `json:"ratings"`
}

func (m movieResource) toItem() Item {
	item := Item{
		ID:         m.ID,
		Title:      m.Title,
		Year:       m.Year,
		Added:      m.Added,
		SizeBytes:  m.SizeOnDisk,
		RootFolder: m.RootFolderPath,
	}
	if m.MovieFile != nil {
		item.QualityName = m.MovieFile.Quality.Quality.Name
	}
	if m.Ratings != nil && m.Ratings.Votes > 0 {
		v := m.Ratings.Value
		item.Rating = &v
	}
	return item
}

// seriesResource is the subset of the Sonarr series payload the engine
// reads. Size comes from the statistics block, summed over seasons.
type seriesResource struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Year           int       `json:"year"`
	Added          time.Time `json:"added"`
	RootFolderPath string    `json:"rootFolderPath"`
	Statistics     *struct {
		SizeOnDisk int64 `json:"sizeOnDisk"`
	} `json:"statistics"`
	Ratings *struct {
		Value float64 `json:"value"`
		Votes int     `json:"votes"`
	} `json:"ratings"`
}

func (s seriesResource) toItem() Item {
	item := Item{
		ID:         s.ID,
		Title:      s.Title,
		Year:       s.Year,
		Added:      s.Added,
		RootFolder: s.RootFolderPath,
	}
	if s.Statistics != nil {
		item.SizeBytes = s.Statistics.SizeOnDisk
	}
	if s.Ratings != nil && s.Ratings.Votes > 0 {
		v := s.Ratings.Value
		item.Rating = &v
	}
	return item
}

type episodeResource struct {
	ID          int64     `json:"id"`
	SeriesID    int64     `json:"seriesId"`
	Title       string    `json:"title"`
	AirDateUTC  time.Time `json:"airDateUtc"`
	HasFile     bool      `json:"hasFile"`
	EpisodeFile *struct {
		Size    int64 `json:"size"`
		Quality struct {
			Quality struct {
				Name string `json:"name"`
			} `json:"quality"`
		} `json:"quality"`
		DateAdded time.Time `json:"dateAdded"`
	} `json:"episodeFile"`
}

func (e episodeResource) toItem() Item {
	item := Item{
		ID:       e.ID,
		Title:    e.Title,
		SeriesID: e.SeriesID,
		Added:    e.AirDateUTC,
	}
	if e.EpisodeFile != nil {
		item.SizeBytes = e.EpisodeFile.Size
		item.QualityName = e.EpisodeFile.Quality.Quality.Name
		if !e.EpisodeFile.DateAdded.IsZero() {
			item.Added = e.EpisodeFile.DateAdded
		}
	}
	return item
}
