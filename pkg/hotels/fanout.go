package hotels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/fetch"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
)

// Getter answers one request. fetch.Orchestrator satisfies it.
type Getter interface {
	GetOrFetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// DefaultLocales are the languages fetched for the aggregate view.
var DefaultLocales = []string{"it", "en-gb", "es", "fr", "de"}

// FanoutConfig holds fan-out configuration.
type FanoutConfig struct {
	// MaxConcurrency bounds parallel GetOrFetch calls. Every call still
	// passes the shared rate limiter.
	MaxConcurrency int

	// Locales fetched for the data category
	Locales []string

	// CacheTTL applied to the aggregate's data and photos entries
	CacheTTL time.Duration
}

// DefaultFanoutConfig returns five locales, four workers and a 24h cache TTL.
func DefaultFanoutConfig() FanoutConfig {
	return FanoutConfig{
		MaxConcurrency: 4,
		Locales:        DefaultLocales,
		CacheTTL:       24 * time.Hour,
	}
}

// Fanout runs reqs concurrently and returns results under the same keys.
// The first failure cancels the remaining calls and is returned.
func Fanout(ctx context.Context, g Getter, reqs map[string]fetch.Request, maxConcurrency int) (map[string]*fetch.Result, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrency)

	var mu sync.Mutex
	results := make(map[string]*fetch.Result, len(reqs))

	for name, req := range reqs {
		eg.Go(func() error {
			res, err := g.GetOrFetch(ctx, req)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Aggregate is the multi-locale hotel view: raw per-locale data payloads
// plus the en-gb photos and the default room list.
type Aggregate struct {
	HotelID  int64                      `json:"hotel_id"`
	Data     map[string]json.RawMessage `json:"data"`
	Photos   json.RawMessage            `json:"photos"`
	RoomList json.RawMessage            `json:"room_list"`
}

// Aggregator builds Aggregate views.
type Aggregator struct {
	catalog *Catalog
	getter  Getter
	config  FanoutConfig
	logger  zerolog.Logger
}

// NewAggregator creates a new aggregator.
func NewAggregator(catalog *Catalog, getter Getter, cfg FanoutConfig, logger zerolog.Logger) *Aggregator {
	if catalog == nil || getter == nil {
		panic("hotels: catalog and getter are required")
	}
	def := DefaultFanoutConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if len(cfg.Locales) == 0 {
		cfg.Locales = def.Locales
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Aggregator{
		catalog: catalog,
		getter:  getter,
		config:  cfg,
		logger:  logging.WithComponent(logger, "aggregator"),
	}
}

const (
	photosKey   = "photos"
	roomListKey = "room-list"
	localeKey   = "data:"
)

// HotelData fetches every configured locale, the photos and the room list
// for hotelID.
func (a *Aggregator) HotelData(ctx context.Context, hotelID int64) (*Aggregate, error) {
	start := time.Now()
	id := strconv.FormatInt(hotelID, 10)

	reqs := make(map[string]fetch.Request, len(a.config.Locales)+2)
	for _, locale := range a.config.Locales {
		req, err := a.catalog.Build(CategoryData, url.Values{"hotel_id": {id}, "locale": {locale}})
		if err != nil {
			return nil, err
		}
		req.CacheTTL = a.config.CacheTTL
		reqs[localeKey+locale] = req
	}

	photos, err := a.catalog.Build(CategoryPhotos, url.Values{"hotel_id": {id}, "locale": {DefaultLocale}})
	if err != nil {
		return nil, err
	}
	photos.CacheTTL = a.config.CacheTTL
	reqs[photosKey] = photos

	rooms, err := a.catalog.Build(CategoryRoomList, url.Values{"hotel_id": {id}})
	if err != nil {
		return nil, err
	}
	reqs[roomListKey] = rooms

	results, err := Fanout(ctx, a.getter, reqs, a.config.MaxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("hotel %d aggregate: %w", hotelID, err)
	}

	agg := &Aggregate{
		HotelID:  hotelID,
		Data:     make(map[string]json.RawMessage, len(a.config.Locales)),
		Photos:   results[photosKey].Payload,
		RoomList: results[roomListKey].Payload,
	}
	for _, locale := range a.config.Locales {
		agg.Data[locale] = results[localeKey+locale].Payload
	}

	a.logger.Debug().
		Int64("hotel_id", hotelID).
		Int("requests", len(reqs)).
		Dur("duration", time.Since(start)).
		Msg("Aggregate complete")

	return agg, nil
}
