// Package websearch provides the `web_search` tool over the Tavily API.
// Responses are kept in a bounded LRU cache with expiration, and concurrent
// identical queries share one HTTP request.
package websearch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tavilygo "github.com/diverged/tavily-go"
	tavilyClient "github.com/diverged/tavily-go/client"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mcp/server"
	"github.com/effective-security/toolmesh/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "providers/websearch")

const (
	// ToolName is the name of the tool
	ToolName = "web_search"
	// DefaultCacheSize is the number of cached queries.
	DefaultCacheSize = 256
	// DefaultCacheTTL is how long a cached response is served.
	DefaultCacheTTL = 15 * time.Minute
	// DefaultMaxResults is the number of results returned to the caller.
	DefaultMaxResults = 5
)

// SearchRequest represents the tool input.
type SearchRequest struct {
	Query      string `json:"query" yaml:"query" jsonschema:"description=The query to search web." validate:"required"`
	MaxResults int    `json:"max_results,omitempty" yaml:"max_results" jsonschema:"description=Maximum number of results; defaults to 5" validate:"omitempty,min=1,max=20"`
	Depth      string `json:"depth,omitempty" yaml:"depth" jsonschema:"enum=basic,enum=advanced,description=Search depth" validate:"omitempty,oneof=basic advanced"`
}

// SearchResult represents the structure for a search response
type SearchResult struct {
	Results []tavilyModels.SearchResult `json:"results" yaml:"results"`
	Answer  string                      `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// Config for the provider
type Config struct {
	// APIKey defaults to the TAVILY_API_KEY environment variable.
	APIKey     string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string       `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	HTTPClient *http.Client `json:"-" yaml:"-"`
	// CacheSize defaults to DefaultCacheSize.
	CacheSize int `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
	// CacheTTL defaults to DefaultCacheTTL.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}

// Searcher runs cached Tavily searches.
type Searcher struct {
	client *tavilyClient.TavilyClient
	cache  *expirable.LRU[string, *SearchResult]
	group  singleflight.Group
}

// NewSearcher returns a Searcher for the configuration.
func NewSearcher(cfg Config) (*Searcher, error) {
	apikey := values.StringsCoalesce(cfg.APIKey, os.Getenv("TAVILY_API_KEY"))
	if apikey == "" {
		return nil, errors.Errorf("TAVILY_API_KEY is not set")
	}

	client := tavilygo.NewClient(apikey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}

	size := int(values.NumbersCoalesce(int64(cfg.CacheSize), DefaultCacheSize))
	ttl := time.Duration(values.NumbersCoalesce(int64(cfg.CacheTTL), int64(DefaultCacheTTL)))

	return &Searcher{
		client: client,
		cache:  expirable.NewLRU[string, *SearchResult](size, nil, ttl),
	}, nil
}

// New returns the websearch provider server.
func New(cfg Config, opts ...server.Option) (*server.Server, error) {
	s, err := NewSearcher(cfg)
	if err != nil {
		return nil, err
	}
	def, err := server.AddTool(ToolName, "Search the web and return the most relevant results with a short answer.", s.handle)
	if err != nil {
		return nil, err
	}
	return server.NewFromDefinitions(protocol.Implementation{Name: "websearch", Version: "1.0.0"}, []server.ToolDefinition{def}, opts...)
}

func cacheKey(req *SearchRequest) string {
	return strings.ToLower(strings.TrimSpace(req.Query)) + "|" + values.StringsCoalesce(req.Depth, "basic")
}

// Search returns the results for the request, from the cache when possible.
// The returned value is shared with the cache and must not be modified.
func (s *Searcher) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("invalid request: empty query")
	}

	depth := values.StringsCoalesce(req.Depth, "basic")
	key := cacheKey(req)
	if res, ok := s.cache.Get(key); ok {
		metricskey.StatsWebSearchCacheHits.IncrCounter(1, depth)
		logger.ContextKV(ctx, xlog.DEBUG, "status", "cache_hit", "query", req.Query)
		return res, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		metricskey.StatsWebSearchCacheMisses.IncrCounter(1, depth)
		searchReq := tavilyModels.SearchRequest{
			Query:         req.Query,
			SearchDepth:   depth,
			IncludeAnswer: true,
		}

		started := time.Now()
		searchResp, err := tavilygo.Search(s.client, searchReq)
		metricskey.PerfWebSearch.MeasureSince(started, depth)
		if err != nil {
			return nil, errors.Wrap(err, "failed to perform search")
		}

		res := &SearchResult{
			Results: searchResp.Results,
			Answer:  searchResp.Answer,
		}
		s.cache.Add(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SearchResult), nil
}

func (s *Searcher) handle(ctx context.Context, req *SearchRequest) (*protocol.CallToolResult, error) {
	res, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return protocol.TextResult(res.Top(int(values.NumbersCoalesce(int64(req.MaxResults), DefaultMaxResults))).String()), nil
}

// Top returns the result limited to the first n entries.
func (r *SearchResult) Top(n int) *SearchResult {
	if len(r.Results) <= n {
		return r
	}
	return &SearchResult{
		Results: r.Results[:n],
		Answer:  r.Answer,
	}
}

func (r *SearchResult) String() string {
	var buf bytes.Buffer
	if r.Answer != "" {
		fmt.Fprintf(&buf, "ANSWER: %s\n", r.Answer)
	}

	for _, result := range r.Results {
		fmt.Fprintf(&buf, "- URL: %s\n", result.URL)
		fmt.Fprintf(&buf, "  TITLE: %s\n", result.Title)
		fmt.Fprintf(&buf, "  SCORE: %f\n", result.Score)
		fmt.Fprintf(&buf, "  CONTENT: %s\n", result.Content)
	}

	return buf.String()
}
