package flume

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mbenton/wattflume/internal/config"
	"github.com/mbenton/wattflume/internal/credentials"
	"github.com/mbenton/wattflume/internal/throttle"
	"github.com/mbenton/wattflume/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "11382"

func fastGuard() *throttle.Guard {
	g := throttle.NewGuard(nil)
	g.MinSpacing = 0
	g.Cooldown = 0
	return g
}

func testCred() *credentials.Credential {
	return &credentials.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		UserID:       testUserID,
	}
}

func signedToken(t *testing.T, userID int) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	store := credentials.NewStore(filepath.Join(t.TempDir(), "flume.token"), nil)
	store.BaseURL = baseURL

	cfg := config.FlumeConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		Username:     "user",
		Password:     "pass",
	}
	c := NewClient(cfg, store, fastGuard(), nil)
	c.BaseURL = baseURL
	return c
}

func devicesHandler(rw http.ResponseWriter) {
	fmt.Fprint(rw, `{"http_code":200,"data":[{"id":100,"type":1},{"id":200,"type":2}]}`)
}

func samplesBody(samples ...string) string {
	return fmt.Sprintf(`{"http_code":200,"data":[{"perminute":[%s]}]}`, strings.Join(samples, ","))
}

func TestBridgeDeviceSelection(t *testing.T) {
	deviceCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/11382/devices", r.URL.Path)
		deviceCalls++
		devicesHandler(rw)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	id, _, err := client.BridgeDevice(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "200", id)

	// The bridge id is cached; a second lookup issues no request.
	id, _, err = client.BridgeDevice(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "200", id)
	assert.Equal(t, 1, deviceCalls)
}

func TestBridgeDeviceMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"http_code":200,"data":[{"id":100,"type":1}]}`)
	}))
	defer srv.Close()

	_, _, err := newTestClient(t, srv.URL).BridgeDevice(context.Background(), testCred())

	var fatal *throttle.FatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestFetchWindowBuildsVendorQuery(t *testing.T) {
	day := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	pm := window.FetchWindow{Start: day.Add(12 * time.Hour), End: day.AddDate(0, 0, 1)}

	var got Query
	mux := http.NewServeMux()
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		var env queryEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		require.Len(t, env.Queries, 1)
		got = env.Queries[0]

		fmt.Fprint(rw, samplesBody(`{"datetime":"2020-06-15 12:00:00","value":0.42}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	samples, _, err := newTestClient(t, srv.URL).FetchWindow(context.Background(), testCred(), pm)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 0.42, samples[0].Value)

	assert.Equal(t, Query{
		RequestID:       "perminute",
		Bucket:          "MIN",
		SinceDatetime:   "2020-06-15 12:00:00",
		UntilDatetime:   "2020-06-15 24:00:00",
		GroupMultiplier: "1",
		SortDirection:   "ASC",
		Units:           "GALLONS",
	}, got)
}

func TestFetchWindowClampsLongSpan(t *testing.T) {
	day := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	w := window.FetchWindow{Start: day, End: day.Add(23*time.Hour + 59*time.Minute)}

	var got Query
	mux := http.NewServeMux()
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		var env queryEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		got = env.Queries[0]
		fmt.Fprint(rw, samplesBody())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, _, err := newTestClient(t, srv.URL).FetchWindow(context.Background(), testCred(), w)
	require.NoError(t, err)
	assert.Equal(t, "2020-06-15 19:59:00", got.UntilDatetime)
}

func TestAuthFailureRefreshesOnce(t *testing.T) {
	freshToken := signedToken(t, 11382)
	obtains := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(rw http.ResponseWriter, r *http.Request) {
		obtains++
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "password", req["grant_type"])
		fmt.Fprintf(rw, `{"http_code":200,"data":[{"access_token":%q,"refresh_token":"refresh-2"}]}`, freshToken)
	})
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer access-1" {
			fmt.Fprint(rw, `{"http_code":401,"message":"unauthorized"}`)
			return
		}
		assert.Equal(t, "Bearer "+freshToken, r.Header.Get("Authorization"))
		fmt.Fprint(rw, samplesBody(`{"datetime":"2020-06-15 00:00:00","value":1.5}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	day := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	w := window.FetchWindow{Start: day, End: day.Add(11*time.Hour + 59*time.Minute)}

	samples, cred, err := newTestClient(t, srv.URL).FetchWindow(context.Background(), testCred(), w)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1, obtains)
	assert.Equal(t, freshToken, cred.AccessToken)
}

func dayHalves(day time.Time) (window.FetchWindow, window.FetchWindow) {
	am := window.FetchWindow{Start: day, End: day.Add(11*time.Hour + 59*time.Minute)}
	pm := window.FetchWindow{Start: day.Add(12 * time.Hour), End: day.AddDate(0, 0, 1)}
	return am, pm
}

func TestFetchDayConcatenatesHalves(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		var env queryEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		if strings.Contains(env.Queries[0].SinceDatetime, "00:00:00") {
			fmt.Fprint(rw, samplesBody(`{"datetime":"2020-06-15 00:01:00","value":0.1}`))
			return
		}
		fmt.Fprint(rw, samplesBody(`{"datetime":"2020-06-15 12:01:00","value":0.2}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	am, pm := dayHalves(time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local))
	samples, _, degraded, err := newTestClient(t, srv.URL).FetchDay(context.Background(), testCred(), am, pm)
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, samples, 2)
	assert.Equal(t, "2020-06-15 00:01:00", samples[0].Datetime)
	assert.Equal(t, "2020-06-15 12:01:00", samples[1].Datetime)
}

func TestFetchDayDropsRateLimitedHalf(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		var env queryEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		if strings.Contains(env.Queries[0].SinceDatetime, "00:00:00") {
			fmt.Fprint(rw, `{"http_code":429,"message":"too many requests"}`)
			return
		}
		fmt.Fprint(rw, samplesBody(`{"datetime":"2020-06-15 12:01:00","value":0.2}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	am, pm := dayHalves(time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local))
	samples, _, degraded, err := newTestClient(t, srv.URL).FetchDay(context.Background(), testCred(), am, pm)
	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, samples, 1)
	assert.Equal(t, "2020-06-15 12:01:00", samples[0].Datetime)
}

func TestFetchDayBothHalvesRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"http_code":429,"message":"too many requests"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	am, pm := dayHalves(time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local))
	_, _, _, err := newTestClient(t, srv.URL).FetchDay(context.Background(), testCred(), am, pm)

	var rl *throttle.RateLimitError
	assert.ErrorAs(t, err, &rl)
}

func TestFetchLastMinute(t *testing.T) {
	var got Query
	mux := http.NewServeMux()
	mux.HandleFunc("/users/11382/devices", func(rw http.ResponseWriter, r *http.Request) {
		devicesHandler(rw)
	})
	mux.HandleFunc("/users/11382/devices/200/query", func(rw http.ResponseWriter, r *http.Request) {
		var env queryEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		got = env.Queries[0]
		fmt.Fprint(rw, samplesBody(`{"datetime":"2020-06-15 10:41:00","value":2.25}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gallons, _, err := newTestClient(t, srv.URL).FetchLastMinute(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, 2.25, gallons)
	assert.Equal(t, "SUM", got.Operation)
	assert.Equal(t, "MIN", got.Bucket)
}
