package places

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/resilience"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.nationalPhoneNumber")

		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plumbers", body.TextQuery)
		assert.Equal(t, 20, body.MaxResultCount)
		require.NotNil(t, body.LocationBias)
		assert.InDelta(t, 30.5, body.LocationBias.Circle.Center.Latitude, 0.001)
		assert.InDelta(t, 0.075*metersPerDegree, body.LocationBias.Circle.Radius, 0.1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{
				{
					DisplayName:      DisplayName{Text: "Ace Plumbing"},
					NationalPhone:    "(512) 555-0134",
					WebsiteURI:       "https://aceplumbing.example.com",
					FormattedAddress: "42 Main St, Austin, TX 78701",
					PrimaryType:      "plumber",
					Rating:           4.7,
					UserRatingCount:  88,
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{
		Query:     "plumbers",
		Lat:       30.5,
		Lng:       -97.7,
		RadiusDeg: 0.075,
		Limit:     20,
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "Ace Plumbing", resp.Places[0].DisplayName.Text)
	assert.Equal(t, "(512) 555-0134", resp.Places[0].NationalPhone)
	assert.Equal(t, "plumber", resp.Places[0].PrimaryType)
	assert.InDelta(t, 4.7, resp.Places[0].Rating, 0.001)
	assert.Equal(t, 88, resp.Places[0].UserRatingCount)
}

func TestTextSearch_Unbiased(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Nil(t, body.LocationBias)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{Places: nil})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "plumbers in Austin TX"})

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestTextSearch_RadiusCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.LocationBias)
		assert.InDelta(t, 50_000, body.LocationBias.Circle.Radius, 0.1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), TextSearchRequest{
		Query:     "plumbers",
		Lat:       30.5,
		Lng:       -97.7,
		RadiusDeg: 2.0,
	})
	require.NoError(t, err)
}

func TestTextSearch_EmptyQuery(t *testing.T) {
	client := NewClient("test-key")
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, resilience.IsPermanent(err))
}

func TestTextSearch_RateLimited_IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limit exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "429")
}

func TestTextSearch_Forbidden_IsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), "403")
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(ctx, TextSearchRequest{Query: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
}
