package manager_nordpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gostonefire/mygrid/scheduling"
)

func fakeDayAheadServer(t *testing.T, area string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries := make([]multiAreaEntry, 24)
		day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		for h := 0; h < 24; h++ {
			entries[h] = multiAreaEntry{
				DeliveryStart: day.Add(time.Duration(h) * time.Hour),
				EntryPerArea:  map[string]float64{area: float64(h) * 100},
			}
		}
		if err := json.NewEncoder(w).Encode(dayAheadResponse{MultiAreaEntries: entries}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
}

func TestGetTariffsExpandsHoursToQuarterUnits(t *testing.T) {
	srv := fakeDayAheadServer(t, "SE4")
	defer srv.Close()

	c := NewClient("SE4", "SEK")
	c.httpClient = srv.Client()

	origURL := dayAheadURL
	dayAheadURL = srv.URL
	defer func() { dayAheadURL = origURL }()

	tariffs, err := c.GetTariffs(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tariffs.Buy) != scheduling.UnitsPerDay {
		t.Fatalf("expected %d units, got %d", scheduling.UnitsPerDay, len(tariffs.Buy))
	}
	// Hour 5 price is 500 SEK/MWh => 0.5 SEK/kWh, repeated across units 20-23.
	for u := 20; u < 24; u++ {
		if tariffs.Buy[u] != 0.5 {
			t.Fatalf("expected unit %d to carry hour 5's price 0.5, got %v", u, tariffs.Buy[u])
		}
	}
}
