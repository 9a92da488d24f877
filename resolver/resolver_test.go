package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotkit/tdkit/tderr"
)

const lampModel = `{"@context":["https://www.w3.org/2022/wot/td/v1.1"],"@type":"tm:ThingModel","title":"Lamp"}`

func TestScheme(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{uri: "file://./models/lamp.tm.json", want: "file"},
		{uri: "HTTPS://example.com/lamp", want: "https"},
		{uri: "coap://device/lamp", want: "coap"},
		{uri: "lamp.tm.json", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, Scheme(tt.uri))
		})
	}
}

func TestLocal_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lamp.tm.json")
	require.NoError(t, os.WriteFile(path, []byte(lampModel), 0o600))

	doc, err := NewLocal().Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", doc.(map[string]any)["title"])
}

func TestLocal_FileErrors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"title":`), 0o600))

	_, err := NewLocal().Fetch(context.Background(), "file://"+filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, tderr.ErrNotFound))

	_, err = NewLocal().Fetch(context.Background(), "file://"+broken)
	assert.True(t, errors.Is(err, tderr.ErrParse))
}

func TestLocal_UnsupportedScheme(t *testing.T) {
	_, err := NewLocal().Fetch(context.Background(), "coap://device/lamp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tderr.ErrUnsupportedScheme))
}

func TestPolicy_Check(t *testing.T) {
	root := t.TempDir()
	policy := Policy{Schemes: []string{"file", "https"}, Root: root}

	tests := []struct {
		name string
		uri  string
		ok   bool
	}{
		{name: "file under root", uri: "file://" + filepath.Join(root, "models", "lamp.tm.json"), ok: true},
		{name: "https", uri: "https://models.example.com/lamp.tm.json", ok: true},
		{name: "system file", uri: "file:///etc/passwd"},
		{name: "dot segments", uri: "file://" + root + "/../outside.json"},
		{name: "sibling prefix", uri: "file://" + root + "-other/lamp.tm.json"},
		{name: "scheme not listed", uri: "http://169.254.169.254/latest/meta-data"},
		{name: "no scheme", uri: "lamp.tm.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Check(tt.uri)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tderr.ErrForbidden)
		})
	}

	assert.ErrorIs(t, Policy{}.Check("https://models.example.com/lamp"), tderr.ErrForbidden)
	assert.NoError(t, Unrestricted.Check("file:///etc/passwd"))
}

func TestLocal_WithPolicy(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "lamp.tm.json")
	require.NoError(t, os.WriteFile(path, []byte(lampModel), 0o600))

	l := NewLocal(WithPolicy(Policy{Schemes: []string{"file"}, Root: root}))

	doc, err := l.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", doc.(map[string]any)["title"])

	_, err = l.Fetch(context.Background(), "file:///etc/passwd")
	assert.ErrorIs(t, err, tderr.ErrForbidden)

	_, err = l.Fetch(context.Background(), "https://models.example.com/lamp.tm.json")
	assert.ErrorIs(t, err, tderr.ErrForbidden)
}

func TestLocal_WithPolicyRefusesSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.json")
	require.NoError(t, os.WriteFile(target, []byte(lampModel), 0o600))

	root := t.TempDir()
	link := filepath.Join(root, "link.json")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	l := NewLocal(WithPolicy(Policy{Schemes: []string{"file"}, Root: root}))
	_, err := l.Fetch(context.Background(), "file://"+link)
	assert.Error(t, err)
}

func TestRestrict(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(ctx context.Context, uri string) (any, error) {
		calls.Add(1)
		return map[string]any{"title": "Lamp"}, nil
	})
	r := Restrict(inner, Policy{Schemes: []string{"https"}})

	_, err := r.Fetch(context.Background(), "file:///etc/passwd")
	assert.ErrorIs(t, err, tderr.ErrForbidden)
	assert.Equal(t, int32(0), calls.Load())

	doc, err := r.Fetch(context.Background(), "https://models.example.com/lamp")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", doc.(map[string]any)["title"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocal_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lamp.tm.json":
			assert.Contains(t, r.Header.Get("Accept"), "application/tm+json")
			w.Header().Set("Content-Type", "application/tm+json")
			fmt.Fprint(w, lampModel)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	local := NewLocal(WithHTTPClient(srv.Client()))

	doc, err := local.Fetch(context.Background(), srv.URL+"/lamp.tm.json")
	require.NoError(t, err)
	assert.Equal(t, "tm:ThingModel", doc.(map[string]any)["@type"])

	_, err = local.Fetch(context.Background(), srv.URL+"/missing")
	assert.True(t, errors.Is(err, tderr.ErrNotFound))

	_, err = local.Fetch(context.Background(), srv.URL+"/error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLocal_HTTPTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewLocal(WithTimeout(20*time.Millisecond)).Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static{"mem://lamp": map[string]any{"title": "Lamp"}}

	doc, err := s.Fetch(context.Background(), "mem://lamp")
	require.NoError(t, err)
	doc.(map[string]any)["title"] = "changed"

	again, err := s.Fetch(context.Background(), "mem://lamp")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", again.(map[string]any)["title"])

	_, err = s.Fetch(context.Background(), "mem://other")
	assert.True(t, errors.Is(err, tderr.ErrNotFound))
}

func countingResolver(calls *atomic.Int32) Resolver {
	return Func(func(ctx context.Context, uri string) (any, error) {
		calls.Add(1)
		if uri == "mem://missing" {
			return nil, tderr.New("test", tderr.CodeNotFound, "missing")
		}
		return map[string]any{"title": "Lamp", "uri": uri}, nil
	})
}

func setupCache(t *testing.T, inner Resolver, opts ...CacheOption) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(inner, RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache, mr
}

func TestRedisCache_HitAndMiss(t *testing.T) {
	var calls atomic.Int32
	cache, mr := setupCache(t, countingResolver(&calls), WithKeyPrefix("test"), WithTTL(time.Minute))
	ctx := context.Background()

	first, err := cache.Fetch(ctx, "mem://lamp")
	require.NoError(t, err)
	second, err := cache.Fetch(ctx, "mem://lamp")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists("test:mem://lamp"))
	assert.Equal(t, time.Minute, mr.TTL("test:mem://lamp"))

	require.NoError(t, cache.Invalidate(ctx, "mem://lamp"))
	_, err = cache.Fetch(ctx, "mem://lamp")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRedisCache_InnerErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	cache, mr := setupCache(t, countingResolver(&calls))

	_, err := cache.Fetch(context.Background(), "mem://missing")
	assert.True(t, errors.Is(err, tderr.ErrNotFound))
	assert.False(t, mr.Exists(cache.Key("mem://missing")))
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	var calls atomic.Int32
	cache, mr := setupCache(t, countingResolver(&calls))
	require.NoError(t, mr.Set(cache.Key("mem://lamp"), "not json"))

	doc, err := cache.Fetch(context.Background(), "mem://lamp")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", doc.(map[string]any)["title"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedisCache_FallsThroughWhenRedisDown(t *testing.T) {
	var calls atomic.Int32
	cache, mr := setupCache(t, countingResolver(&calls))
	mr.Close()

	doc, err := cache.Fetch(context.Background(), "mem://lamp")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", doc.(map[string]any)["title"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(RedisOptions{URL: "not-a-url"})
	assert.Error(t, err)
}
