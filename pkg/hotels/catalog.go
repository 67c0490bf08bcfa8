// Package hotels maps the public data categories onto orchestrator requests:
// which upstream endpoint each one hits, its default parameters, and how long
// its answers live in each tier.
package hotels

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/spf13/cast"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/cache"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/fetch"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
)

// Category is a public data category. Its value is also the upstream
// endpoint and the durable collection name.
type Category string

const (
	CategoryPhotos   Category = "photos"
	CategoryData     Category = "data"
	CategoryReviews  Category = "reviews"
	CategoryRoomList Category = "room-list"
)

// Defaults shared by every category.
const (
	DefaultHotelID = 4469654
	DefaultLocale  = "en-gb"
	dateLayout     = "2006-01-02"
)

// ErrUnknownCategory is returned by Build for categories outside the table.
var ErrUnknownCategory = errors.New("unknown hotel data category")

// Freshness holds the durable freshness window per category.
type Freshness struct {
	Photos   time.Duration `mapstructure:"photos"`
	Data     time.Duration `mapstructure:"data"`
	Reviews  time.Duration `mapstructure:"reviews"`
	RoomList time.Duration `mapstructure:"room_list"`
}

// DefaultFreshness returns 72h for hotel data and photos, 24h for reviews
// and 8h for room lists.
func DefaultFreshness() Freshness {
	return Freshness{
		Photos:   72 * time.Hour,
		Data:     72 * time.Hour,
		Reviews:  24 * time.Hour,
		RoomList: 8 * time.Hour,
	}
}

type param struct {
	name    string
	integer bool
	value   func(now time.Time) any
}

func fixed(v any) func(time.Time) any {
	return func(time.Time) any { return v }
}

type definition struct {
	params   []param
	cacheTTL time.Duration
}

var definitions = map[Category]definition{
	CategoryPhotos: {
		params: []param{
			{name: "hotel_id", integer: true, value: fixed(DefaultHotelID)},
			{name: "locale", value: fixed(DefaultLocale)},
		},
		cacheTTL: 5 * time.Second,
	},
	CategoryData: {
		params: []param{
			{name: "hotel_id", integer: true, value: fixed(DefaultHotelID)},
			{name: "locale", value: fixed(DefaultLocale)},
		},
		cacheTTL: 5 * time.Second,
	},
	CategoryReviews: {
		params: []param{
			{name: "hotel_id", integer: true, value: fixed(DefaultHotelID)},
			{name: "locale", value: fixed(DefaultLocale)},
			{name: "customer_type", value: fixed("solo_traveller,review_category_group_of_friends")},
			{name: "sort_type", value: fixed("SORT_MOST_RELEVANT")},
			{name: "language_filter", value: fixed("he")},
			{name: "page_number", integer: true, value: fixed(0)},
		},
		cacheTTL: 24 * time.Hour,
	},
	CategoryRoomList: {
		params: []param{
			{name: "hotel_id", integer: true, value: fixed(DefaultHotelID)},
			{name: "checkin_date", value: func(now time.Time) any { return now.AddDate(0, 0, 30).Format(dateLayout) }},
			{name: "checkout_date", value: func(now time.Time) any { return now.AddDate(0, 0, 31).Format(dateLayout) }},
			{name: "children_ages", value: fixed("5,0,9")},
			{name: "children_number_by_rooms", value: fixed("2,1")},
			{name: "adults_number_by_rooms", value: fixed("3,1")},
			{name: "units", value: fixed("metric")},
			{name: "currency", value: fixed("THB")},
			{name: "locale", value: fixed(DefaultLocale)},
		},
		cacheTTL: 8 * time.Hour,
	},
}

// Categories returns all known categories in a stable order.
func Categories() []Category {
	out := make([]Category, 0, len(definitions))
	for c := range definitions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParamError reports an override that cannot be used as a parameter value.
type ParamError struct {
	Name  string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %v", e.Value, e.Name, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParamError) Unwrap() error {
	return e.Err
}

// Catalog builds orchestrator requests for the known categories.
type Catalog struct {
	freshness Freshness
	now       func() time.Time
}

// NewCatalog creates a catalog. Zero freshness entries fall back to DefaultFreshness.
func NewCatalog(freshness Freshness) *Catalog {
	def := DefaultFreshness()
	if freshness.Photos <= 0 {
		freshness.Photos = def.Photos
	}
	if freshness.Data <= 0 {
		freshness.Data = def.Data
	}
	if freshness.Reviews <= 0 {
		freshness.Reviews = def.Reviews
	}
	if freshness.RoomList <= 0 {
		freshness.RoomList = def.RoomList
	}
	return &Catalog{freshness: freshness, now: time.Now}
}

// SetClock replaces the time source used for date defaults (for testing).
func (c *Catalog) SetClock(now func() time.Time) {
	c.now = now
}

// Freshness returns the durable freshness window for cat.
func (c *Catalog) Freshness(cat Category) time.Duration {
	switch cat {
	case CategoryPhotos:
		return c.freshness.Photos
	case CategoryData:
		return c.freshness.Data
	case CategoryReviews:
		return c.freshness.Reviews
	case CategoryRoomList:
		return c.freshness.RoomList
	}
	return 0
}

// Build returns the request for cat. Known parameters present in overrides
// replace their defaults; anything else in overrides is ignored.
func (c *Catalog) Build(cat Category, overrides url.Values) (fetch.Request, error) {
	def, ok := definitions[cat]
	if !ok {
		return fetch.Request{}, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}

	now := c.now()
	var params query.Params
	for _, p := range def.params {
		var value any = p.value(now)
		if overrides.Has(p.name) {
			raw := overrides.Get(p.name)
			value = raw
			if p.integer {
				n, err := cast.ToInt64E(raw)
				if err != nil {
					return fetch.Request{}, &ParamError{Name: p.name, Value: raw, Err: err}
				}
				value = n
			}
		}
		if err := params.Set(p.name, value); err != nil {
			return fetch.Request{}, err
		}
	}

	endpoint := string(cat)
	return fetch.Request{
		Endpoint:  endpoint,
		Params:    params,
		CacheKey:  cache.CacheKey{Endpoint: endpoint, Params: params}.String(),
		CacheTTL:  def.cacheTTL,
		Freshness: c.Freshness(cat),
	}, nil
}
