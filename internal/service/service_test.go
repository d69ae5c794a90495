package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/forecast-lookup-service/internal/cache"
	"github.com/kjstillabower/forecast-lookup-service/internal/client"
	"github.com/kjstillabower/forecast-lookup-service/internal/geocode"
	"github.com/kjstillabower/forecast-lookup-service/internal/models"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
	"github.com/kjstillabower/forecast-lookup-service/internal/upstream"
)

type mockGeocoder struct {
	result models.GeocodeResult
	err    error
	calls  int32
}

func (m *mockGeocoder) Resolve(ctx context.Context, address string) (models.GeocodeResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return models.GeocodeResult{}, m.err
	}
	return m.result, nil
}

type mockWeatherClient struct {
	forecast models.Forecast
	err      error
	calls    int32
	release  chan struct{} // when set, Fetch blocks until closed
}

func (m *mockWeatherClient) Fetch(ctx context.Context, lat, lon float64) (models.Forecast, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return models.Forecast{}, m.err
	}
	return m.forecast.Clone(), nil
}

func (m *mockWeatherClient) Ping(ctx context.Context) error { return nil }

func (m *mockWeatherClient) fetchCount() int { return int(atomic.LoadInt32(&m.calls)) }

// failingCache returns errors from Get and/or Set and otherwise stays empty.
type failingCache struct {
	getErr, setErr error
}

func (c *failingCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	return models.Forecast{}, false, c.getErr
}

func (c *failingCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	return c.setErr
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newYork() models.GeocodeResult {
	return models.GeocodeResult{Latitude: 40.7128, Longitude: -74.0060, PostalCode: "10007", DisplayName: "New York, NY, USA"}
}

func forecastWithTemp(temp float64) models.Forecast {
	return models.Forecast{
		Current:   models.CurrentConditions{TempC: &temp},
		Daily:     []models.DailyForecast{{Date: "2024-07-01"}},
		FetchedAt: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name string
		geo  models.GeocodeResult
		want string
	}{
		{"postal code used as-is", models.GeocodeResult{PostalCode: "10007", Latitude: 1, Longitude: 2}, "10007"},
		{"postal code with space", models.GeocodeResult{PostalCode: "SW1A 1AA"}, "SW1A 1AA"},
		{"no postal code", models.GeocodeResult{Latitude: 48.856613, Longitude: 2.352222}, "latlon:48.8566,2.3522"},
		{"blank postal code", models.GeocodeResult{PostalCode: "  ", Latitude: -33.8688, Longitude: 151.2093}, "latlon:-33.8688,151.2093"},
		{"zero padding", models.GeocodeResult{Latitude: 1.5, Longitude: -0.1}, "latlon:1.5000,-0.1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey(tt.geo); got != tt.want {
				t.Errorf("CacheKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_StableAcrossCalls(t *testing.T) {
	geo := models.GeocodeResult{Latitude: 51.50735, Longitude: -0.12776}
	if CacheKey(geo) != CacheKey(geo) {
		t.Error("CacheKey() not stable for identical input")
	}
}

// TestLookup_NewYork walks the reference scenario: the postal code becomes the key, the
// temperature is surfaced, and the second lookup within the TTL is served from cache.
func TestLookup_NewYork(t *testing.T) {
	geocoder := &mockGeocoder{result: newYork()}
	weather := &mockWeatherClient{forecast: forecastWithTemp(30.5)}
	svc := NewLookupService(geocoder, weather, cache.NewInMemoryCache(), 0, false)
	ctx := context.Background()

	first, err := svc.Lookup(ctx, "New York")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if first.CacheKey != "10007" {
		t.Errorf("CacheKey = %q, want 10007", first.CacheKey)
	}
	if first.FromCache {
		t.Error("first Lookup() FromCache = true, want false")
	}
	if first.Forecast.Current.TempC == nil || *first.Forecast.Current.TempC != 30.5 {
		t.Errorf("TempC = %v, want 30.5", first.Forecast.Current.TempC)
	}
	if first.LocationName != "New York, NY, USA" {
		t.Errorf("LocationName = %q", first.LocationName)
	}

	second, err := svc.Lookup(ctx, "New York")
	if err != nil {
		t.Fatalf("second Lookup() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second Lookup() FromCache = false, want true")
	}
	if *second.Forecast.Current.TempC != 30.5 || !second.Forecast.FetchedAt.Equal(first.Forecast.FetchedAt) {
		t.Errorf("cached forecast differs: %+v vs %+v", second.Forecast, first.Forecast)
	}
	if weather.fetchCount() != 1 {
		t.Errorf("weather fetches = %d, want 1", weather.fetchCount())
	}
	if geocoder.calls != 2 {
		t.Errorf("geocoder calls = %d, want 2 (geocoding runs on every lookup)", geocoder.calls)
	}
}

func TestLookup_RefetchesAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
	weather := &mockWeatherClient{forecast: forecastWithTemp(20)}
	svc := NewLookupService(&mockGeocoder{result: newYork()}, weather, cache.NewInMemoryCacheWithClock(clock.Now), 30*time.Minute, false)
	ctx := context.Background()

	if _, err := svc.Lookup(ctx, "New York"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	clock.Advance(29 * time.Minute)
	if res, _ := svc.Lookup(ctx, "New York"); !res.FromCache {
		t.Error("Lookup() within TTL FromCache = false, want true")
	}
	clock.Advance(time.Minute)
	res, err := svc.Lookup(ctx, "New York")
	if err != nil {
		t.Fatalf("Lookup() after TTL error = %v", err)
	}
	if res.FromCache {
		t.Error("Lookup() after TTL FromCache = true, want false")
	}
	if weather.fetchCount() != 2 {
		t.Errorf("weather fetches = %d, want 2", weather.fetchCount())
	}
}

func TestLookup_EmptyAddress(t *testing.T) {
	geocoder := &mockGeocoder{result: newYork()}
	svc := NewLookupService(geocoder, &mockWeatherClient{}, cache.NewInMemoryCache(), 0, false)

	for _, addr := range []string{"", "   ", "\t\n"} {
		if _, err := svc.Lookup(context.Background(), addr); !errors.Is(err, ErrEmptyAddress) {
			t.Errorf("Lookup(%q) error = %v, want ErrEmptyAddress", addr, err)
		}
	}
	if geocoder.calls != 0 {
		t.Errorf("geocoder calls = %d, want 0", geocoder.calls)
	}
}

func TestLookup_NoGeocodeResults(t *testing.T) {
	weather := &mockWeatherClient{forecast: forecastWithTemp(1)}
	svc := NewLookupService(&mockGeocoder{err: geocode.ErrNoResults}, weather, cache.NewInMemoryCache(), 0, false)

	_, err := svc.Lookup(context.Background(), "Atlantis")

	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) || lookupErr.Stage != StageGeocode {
		t.Fatalf("Lookup() error = %v, want geocode-stage LookupError", err)
	}
	if !errors.Is(err, geocode.ErrNoResults) {
		t.Errorf("errors.Is(err, ErrNoResults) = false")
	}
	if !strings.HasPrefix(err.Error(), "Cannot geocode address: ") {
		t.Errorf("Error() = %q", err.Error())
	}
	if weather.fetchCount() != 0 {
		t.Errorf("weather fetches = %d, want 0", weather.fetchCount())
	}
}

func TestLookup_WeatherFailureIsNotCached(t *testing.T) {
	store := cache.NewInMemoryCache()
	weather := &mockWeatherClient{err: &client.UpstreamHTTPError{Call: client.CallForecast, Status: 401, Body: "Invalid API key"}}
	svc := NewLookupService(&mockGeocoder{result: newYork()}, weather, store, 0, false)

	_, err := svc.Lookup(context.Background(), "New York")

	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) || lookupErr.Stage != StageWeather {
		t.Fatalf("Lookup() error = %v, want weather-stage LookupError", err)
	}
	if got, want := err.Error(), "Weather API error: HTTP 401: Invalid API key"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if store.Len() != 0 {
		t.Errorf("cache entries = %d, want 0 after a failed fetch", store.Len())
	}

	// The next lookup tries again rather than serving a cached failure.
	weather.err = nil
	weather.forecast = forecastWithTemp(5)
	res, err := svc.Lookup(context.Background(), "New York")
	if err != nil || res.FromCache {
		t.Errorf("retry Lookup() = %+v, %v; want fresh fetch", res, err)
	}
}

func TestLookup_MissingCredentialMakesNoWeatherCall(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	weather, err := client.NewOpenWeatherClient("", server.URL, time.Second, upstream.NewDoer("weather_api", time.Second, "", upstream.BreakerConfig{}))
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	svc := NewLookupService(&mockGeocoder{result: newYork()}, weather, cache.NewInMemoryCache(), 0, false)

	_, err = svc.Lookup(context.Background(), "New York")
	if !errors.Is(err, client.ErrMissingCredential) {
		t.Fatalf("Lookup() error = %v, want ErrMissingCredential", err)
	}
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) || lookupErr.Stage != StageWeather {
		t.Errorf("Lookup() error = %v, want weather stage", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("outbound weather calls = %d, want 0", n)
	}
}

func TestLookup_LocationNameFallsBackToInput(t *testing.T) {
	geo := models.GeocodeResult{Latitude: 1, Longitude: 2}
	svc := NewLookupService(&mockGeocoder{result: geo}, &mockWeatherClient{forecast: forecastWithTemp(1)}, cache.NewInMemoryCache(), 0, false)

	res, err := svc.Lookup(context.Background(), "  somewhere quiet ")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.LocationName != "somewhere quiet" {
		t.Errorf("LocationName = %q, want trimmed input", res.LocationName)
	}
	if res.CacheKey != "latlon:1.0000,2.0000" {
		t.Errorf("CacheKey = %q", res.CacheKey)
	}
}

func TestLookup_CacheErrorsAreNotFatal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := observability.WithLogger(context.Background(), zap.New(core))

	weather := &mockWeatherClient{forecast: forecastWithTemp(12)}
	store := &failingCache{getErr: errors.New("connection refused"), setErr: errors.New("memcached set: timeout")}
	svc := NewLookupService(&mockGeocoder{result: newYork()}, weather, store, 0, false)

	res, err := svc.Lookup(ctx, "New York")
	if err != nil {
		t.Fatalf("Lookup() error = %v, want cache errors swallowed", err)
	}
	if res.FromCache || *res.Forecast.Current.TempC != 12 {
		t.Errorf("Lookup() = %+v", res)
	}
	if n := logs.FilterMessage("cache get failed").Len(); n != 1 {
		t.Errorf("cache get failed logs = %d, want 1", n)
	}
	if n := logs.FilterMessage("cache set failed").Len(); n != 1 {
		t.Errorf("cache set failed logs = %d, want 1", n)
	}
}

func TestLookup_ReturnedForecastDoesNotAliasCache(t *testing.T) {
	svc := NewLookupService(&mockGeocoder{result: newYork()}, &mockWeatherClient{forecast: forecastWithTemp(7)}, cache.NewInMemoryCache(), 0, false)
	ctx := context.Background()

	first, _ := svc.Lookup(ctx, "New York")
	*first.Forecast.Current.TempC = 100

	second, _ := svc.Lookup(ctx, "New York")
	if *second.Forecast.Current.TempC != 7 {
		t.Errorf("cached TempC = %v, want 7", *second.Forecast.Current.TempC)
	}
}

func TestLookup_CoalescesConcurrentMisses(t *testing.T) {
	weather := &mockWeatherClient{forecast: forecastWithTemp(3), release: make(chan struct{})}
	store := cache.NewInMemoryCache()
	svc := NewLookupService(&mockGeocoder{result: newYork()}, weather, store, 0, true)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]models.LookupResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Lookup(context.Background(), "New York")
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.stampedeTracker.inFlight("10007") < callers && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(weather.release)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Lookup() %d error = %v", i, errs[i])
		}
		if *results[i].Forecast.Current.TempC != 3 {
			t.Errorf("Lookup() %d TempC = %v", i, *results[i].Forecast.Current.TempC)
		}
	}
	if n := weather.fetchCount(); n != 1 {
		t.Errorf("weather fetches = %d, want 1 with coalescing", n)
	}
	if store.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", store.Len())
	}
}

func TestLookup_WithoutCoalescingEachMissFetches(t *testing.T) {
	weather := &mockWeatherClient{forecast: forecastWithTemp(3), release: make(chan struct{})}
	svc := NewLookupService(&mockGeocoder{result: newYork()}, weather, cache.NewInMemoryCache(), 0, false)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Lookup(context.Background(), "New York")
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for weather.fetchCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(weather.release)
	wg.Wait()

	if n := weather.fetchCount(); n != 3 {
		t.Errorf("weather fetches = %d, want 3", n)
	}
}

func TestLookupError_Messages(t *testing.T) {
	tests := []struct {
		err  *LookupError
		want string
	}{
		{&LookupError{Stage: StageGeocode, Err: geocode.ErrNoResults}, "Cannot geocode address: no geocoding results"},
		{&LookupError{Stage: StageWeather, Err: client.ErrMissingCredential}, "Weather API error: weather API key is not configured"},
		{&LookupError{Stage: "other", Err: errors.New("x")}, "other: x"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestCategorizeCacheError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{errors.New("i/o timeout"), "timeout"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{fmt.Errorf("redis decode: %w", errors.New("bad")), "decode"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeCacheError(tt.err); got != tt.want {
			t.Errorf("categorizeCacheError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
