package cache

import (
	"testing"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "endpoint no params",
			key: CacheKey{
				Endpoint: "photos",
			},
			want: "hotels:photos",
		},
		{
			name: "endpoint with params",
			key: CacheKey{
				Endpoint: "data",
				Params:   query.MustNew("hotel_id", 4469654, "locale", "en-gb"),
			},
			want: "hotels:data:hotel_id=4469654&locale=en-gb",
		},
		{
			name: "params sorted",
			key: CacheKey{
				Endpoint: "reviews",
				Params:   query.MustNew("sort_type", "SORT_MOST_RELEVANT", "hotel_id", 1, "page_number", 0),
			},
			want: "hotels:reviews:hotel_id=1&page_number=0&sort_type=SORT_MOST_RELEVANT",
		},
		{
			name: "separators escaped",
			key: CacheKey{
				Endpoint: "/room-list/",
				Params:   query.MustNew("children_ages", "5,0,9"),
			},
			want: "hotels:room-list:children_ages=5%2C0%2C9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.String()
			if got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a := CacheKey{
		Endpoint: "data",
		Params:   query.MustNew("hotel_id", 4469654, "locale", "en-gb"),
	}
	b := CacheKey{
		Endpoint: "data",
		Params:   query.MustNew("locale", "en-gb", "hotel_id", "4469654"),
	}

	for i := 0; i < 100; i++ {
		if a.String() != b.String() {
			t.Fatalf("keys differ: %s vs %s", a.String(), b.String())
		}
	}
}

func TestCacheKey_EndpointSeparatesKeys(t *testing.T) {
	params := query.MustNew("hotel_id", 4469654, "locale", "en-gb")
	data := CacheKey{Endpoint: "data", Params: params}
	photos := CacheKey{Endpoint: "photos", Params: params}

	if data.String() == photos.String() {
		t.Error("different endpoints must not share a key")
	}
}
