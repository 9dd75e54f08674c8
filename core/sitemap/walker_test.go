package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tky-kevin/travelkb/core/fetcher"
	"github.com/tky-kevin/travelkb/model"
)

type testSite struct {
	server *httptest.Server
	pages  map[string]string
	hits   atomic.Int64
}

func newTestSite(t *testing.T) *testSite {
	site := &testSite{pages: map[string]string{}}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.hits.Add(1)
		body, ok := site.pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(site.server.Close)
	return site
}

func (s *testSite) url(path string) string {
	return s.server.URL + path
}

func index(locs ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += "<sitemap><loc>" + loc + "</loc></sitemap>"
	}
	return body + "</sitemapindex>"
}

func urlset(entries ...[2]string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, e := range entries {
		body += "<url><loc>" + e[0] + "</loc>"
		if e[1] != "" {
			body += "<lastmod>" + e[1] + "</lastmod>"
		}
		body += "</url>"
	}
	return body + "</urlset>"
}

func testWalker(config model.CrawlConfig) *Walker {
	f := fetcher.NewFetcher(nil, 5*time.Second, "travelkb-test", 1<<20)
	return NewWalker(f, config, nil)
}

func testConfig() model.CrawlConfig {
	config := model.DefaultCrawlConfig()
	config.DomainMarker = ""
	return config
}

func TestCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("Sitemap index only follows relevant sub-sitemaps", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/sitemap.xml"] = index(site.url("/post-sitemap.xml"), site.url("/page-sitemap.xml"))
		site.pages["/post-sitemap.xml"] = urlset([2]string{site.url("/post-a"), "2024-01-01"})
		site.pages["/page-sitemap.xml"] = urlset([2]string{site.url("/about"), "2024-05-01"})

		candidates := testWalker(testConfig()).CollectCandidates(ctx, site.url("/sitemap.xml"))

		require.Len(t, candidates, 1)
		assert.Equal(t, site.url("/post-a"), candidates[0].URL)
	})

	t.Run("Urlset entries outside the domain are dropped", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/post-sitemap.xml"] = urlset(
			[2]string{site.url("/post-a"), ""},
			[2]string{"https://elsewhere.example/post-b", ""},
		)

		candidates := testWalker(testConfig()).CollectCandidates(ctx, site.url("/post-sitemap.xml"))

		require.Len(t, candidates, 1)
		assert.Equal(t, site.url("/post-a"), candidates[0].URL)
		assert.True(t, candidates[0].LastModified.IsZero())
	})

	t.Run("Domain marker selects entries by substring", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/post-sitemap.xml"] = urlset(
			[2]string{"https://bunnyann.tw/tainan", "2024-02-01"},
			[2]string{site.url("/local"), "2024-02-01"},
		)
		config := testConfig()
		config.DomainMarker = "bunnyann.tw"

		candidates := testWalker(config).CollectCandidates(ctx, site.url("/post-sitemap.xml"))

		require.Len(t, candidates, 1)
		assert.Equal(t, "https://bunnyann.tw/tainan", candidates[0].URL)
	})

	t.Run("Failing sub-sitemap contributes nothing", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/sitemap.xml"] = index(site.url("/post-sitemap1.xml"), site.url("/post-sitemap2.xml"), site.url("/post-sitemap3.xml"))
		site.pages["/post-sitemap1.xml"] = `<urlset><url><loc>broken`
		site.pages["/post-sitemap3.xml"] = urlset([2]string{site.url("/post-c"), "2024-03-01"})

		candidates := testWalker(testConfig()).CollectCandidates(ctx, site.url("/sitemap.xml"))

		require.Len(t, candidates, 1)
		assert.Equal(t, site.url("/post-c"), candidates[0].URL)
	})

	t.Run("Failing root yields an empty sequence", func(t *testing.T) {
		site := newTestSite(t)

		candidates := testWalker(testConfig()).CollectCandidates(ctx, site.url("/missing.xml"))

		assert.NotNil(t, candidates)
		assert.Empty(t, candidates)
	})

	t.Run("Cyclic sitemap indexes terminate", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/post-sitemap-a.xml"] = index(site.url("/post-sitemap-b.xml"))
		site.pages["/post-sitemap-b.xml"] = index(site.url("/post-sitemap-a.xml"), site.url("/post-sitemap-leaf.xml"))
		site.pages["/post-sitemap-leaf.xml"] = urlset([2]string{site.url("/post-a"), ""})

		candidates := testWalker(testConfig()).CollectCandidates(ctx, site.url("/post-sitemap-a.xml"))

		require.Len(t, candidates, 1)
		assert.Equal(t, int64(3), site.hits.Load(), "Expected every sitemap to be fetched once")
	})

	t.Run("Nesting deeper than the limit is not followed", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/post-sitemap-0.xml"] = index(site.url("/post-sitemap-1.xml"))
		site.pages["/post-sitemap-1.xml"] = index(site.url("/post-sitemap-2.xml"))
		site.pages["/post-sitemap-2.xml"] = urlset([2]string{site.url("/deep"), ""})
		config := testConfig()
		config.MaxSitemapDepth = 1

		candidates := testWalker(config).CollectCandidates(ctx, site.url("/post-sitemap-0.xml"))

		assert.Empty(t, candidates)
	})

	t.Run("Sequence is lazy and restartable", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/sitemap.xml"] = index(site.url("/post-sitemap1.xml"), site.url("/post-sitemap2.xml"))
		site.pages["/post-sitemap1.xml"] = urlset([2]string{site.url("/a"), ""}, [2]string{site.url("/b"), ""})
		site.pages["/post-sitemap2.xml"] = urlset([2]string{site.url("/c"), ""})

		seq := testWalker(testConfig()).Candidates(ctx, site.url("/sitemap.xml"))
		assert.Equal(t, int64(0), site.hits.Load(), "Expected nothing to be fetched before ranging")

		for range seq {
			break
		}
		assert.Equal(t, int64(2), site.hits.Load(), "Expected the second sub-sitemap not to be fetched")

		count := 0
		for range seq {
			count++
		}
		assert.Equal(t, 3, count)
		assert.Equal(t, int64(5), site.hits.Load(), "Expected a second range to fetch again")
	})

	t.Run("Duplicates keep the newest last modification", func(t *testing.T) {
		site := newTestSite(t)
		site.pages["/sitemap.xml"] = index(site.url("/post-sitemap1.xml"), site.url("/post-sitemap2.xml"))
		site.pages["/post-sitemap1.xml"] = urlset([2]string{site.url("/a"), "2024-01-01"})
		site.pages["/post-sitemap2.xml"] = urlset([2]string{site.url("/a"), "2024-06-01"})

		candidates := testWalker(testConfig()).CollectCandidates(ctx, site.url("/sitemap.xml"))

		require.Len(t, candidates, 1)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), candidates[0].LastModified)
	})
}

func TestParseLastModified(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"UTC with trailing Z", "2024-03-01T10:20:30Z", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"Explicit offset", "2024-03-01T10:20:30+08:00", time.Date(2024, 3, 1, 2, 20, 30, 0, time.UTC)},
		{"Fractional seconds", "2024-03-01T10:20:30.500Z", time.Date(2024, 3, 1, 10, 20, 30, 500000000, time.UTC)},
		{"No offset", "2024-03-01T10:20:30", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"Minute precision", "2024-03-01T10:20+08:00", time.Date(2024, 3, 1, 2, 20, 0, 0, time.UTC)},
		{"Bare date", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Date prefix with garbage", "2024-03-01 sometime", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Whitespace is trimmed", "  2024-03-01\n", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Unparsable", "yesterday", time.Time{}},
		{"Invalid calendar date", "2024-13-45", time.Time{}},
		{"Empty", "", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(ParseLastModified(tt.value)), "got %v", ParseLastModified(tt.value))
		})
	}

	t.Run("Unparsable sorts older than any valid date", func(t *testing.T) {
		assert.True(t, ParseLastModified("garbage").Before(ParseLastModified("1970-01-01")))
	})
}

func TestSameHost(t *testing.T) {
	belongs := SameHost("https://bunnyann.tw/sitemap.xml")

	assert.True(t, belongs("https://BunnyAnn.tw/post"))
	assert.False(t, belongs("https://cdn.bunnyann.tw/post"))
	assert.False(t, SameHost("::bad")("https://bunnyann.tw"))
}
