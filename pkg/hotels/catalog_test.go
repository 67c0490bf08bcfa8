package hotels

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func fixedCatalog() *Catalog {
	c := NewCatalog(Freshness{})
	c.SetClock(func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) })
	return c
}

func TestBuild_Defaults(t *testing.T) {
	c := fixedCatalog()

	tests := []struct {
		category  Category
		wantKeys  []string
		wantTTL   time.Duration
		freshness time.Duration
	}{
		{
			category:  CategoryPhotos,
			wantKeys:  []string{"hotel_id", "locale"},
			wantTTL:   5 * time.Second,
			freshness: 72 * time.Hour,
		},
		{
			category:  CategoryData,
			wantKeys:  []string{"hotel_id", "locale"},
			wantTTL:   5 * time.Second,
			freshness: 72 * time.Hour,
		},
		{
			category:  CategoryReviews,
			wantKeys:  []string{"hotel_id", "locale", "customer_type", "sort_type", "language_filter", "page_number"},
			wantTTL:   24 * time.Hour,
			freshness: 24 * time.Hour,
		},
		{
			category: CategoryRoomList,
			wantKeys: []string{
				"hotel_id", "checkin_date", "checkout_date", "children_ages", "children_number_by_rooms",
				"adults_number_by_rooms", "units", "currency", "locale",
			},
			wantTTL:   8 * time.Hour,
			freshness: 8 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			req, err := c.Build(tt.category, nil)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if req.Endpoint != string(tt.category) {
				t.Errorf("Endpoint = %q", req.Endpoint)
			}
			if got := strings.Join(req.Params.Keys(), ","); got != strings.Join(tt.wantKeys, ",") {
				t.Errorf("Keys = %s", got)
			}
			if req.CacheTTL != tt.wantTTL {
				t.Errorf("CacheTTL = %v, want %v", req.CacheTTL, tt.wantTTL)
			}
			if req.Freshness != tt.freshness {
				t.Errorf("Freshness = %v, want %v", req.Freshness, tt.freshness)
			}
			if v, _ := req.Params.Get("hotel_id"); v != "4469654" {
				t.Errorf("hotel_id = %q", v)
			}
			if !strings.HasPrefix(req.CacheKey, "hotels:"+string(tt.category)+":") {
				t.Errorf("CacheKey = %q", req.CacheKey)
			}
		})
	}
}

func TestBuild_RoomListDates(t *testing.T) {
	req, err := fixedCatalog().Build(CategoryRoomList, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if v, _ := req.Params.Get("checkin_date"); v != "2026-11-13" {
		t.Errorf("checkin_date = %q", v)
	}
	if v, _ := req.Params.Get("checkout_date"); v != "2026-11-14" {
		t.Errorf("checkout_date = %q", v)
	}
	if v, _ := req.Params.Get("currency"); v != "THB" {
		t.Errorf("currency = %q", v)
	}
}

func TestBuild_Overrides(t *testing.T) {
	c := fixedCatalog()

	req, err := c.Build(CategoryReviews, url.Values{
		"hotel_id":    {"123"},
		"page_number": {"2"},
		"unrelated":   {"x"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if v, _ := req.Params.Get("hotel_id"); v != "123" {
		t.Errorf("hotel_id = %q", v)
	}
	if v, _ := req.Params.Get("page_number"); v != "2" {
		t.Errorf("page_number = %q", v)
	}
	if _, ok := req.Params.Get("unrelated"); ok {
		t.Error("unknown parameters must be ignored")
	}

	other, _ := c.Build(CategoryReviews, url.Values{"hotel_id": {"124"}})
	if other.CacheKey == req.CacheKey {
		t.Error("distinct params must give distinct cache keys")
	}
	same, _ := c.Build(CategoryReviews, url.Values{"page_number": {"2"}, "hotel_id": {"123"}})
	if same.CacheKey != req.CacheKey {
		t.Error("identical params must give identical cache keys")
	}
}

func TestBuild_Errors(t *testing.T) {
	c := fixedCatalog()

	if _, err := c.Build("nope", nil); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}

	_, err := c.Build(CategoryData, url.Values{"hotel_id": {"abc"}})
	var pe *ParamError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParamError, got %v", err)
	}
	if pe.Name != "hotel_id" || pe.Value != "abc" {
		t.Errorf("unexpected ParamError %+v", pe)
	}
}

func TestNewCatalog_FreshnessOverrides(t *testing.T) {
	c := NewCatalog(Freshness{Reviews: 2 * time.Hour})
	if c.Freshness(CategoryReviews) != 2*time.Hour {
		t.Errorf("reviews freshness = %v", c.Freshness(CategoryReviews))
	}
	if c.Freshness(CategoryData) != 72*time.Hour {
		t.Errorf("data freshness = %v", c.Freshness(CategoryData))
	}
	if c.Freshness("nope") != 0 {
		t.Error("unknown category should have zero freshness")
	}
}

func TestCategories(t *testing.T) {
	got := Categories()
	if len(got) != 4 {
		t.Fatalf("Categories = %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("Categories not sorted: %v", got)
		}
	}
}
