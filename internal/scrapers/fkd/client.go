// Package fkd fetches and parses case records from the failure knowledge
// database (shippai.org/fkd).
package fkd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fkd-backend/internal/components/assert"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/scenario"
	"fkd-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const DefaultBaseUrl = "https://www.shippai.org/fkd/"

const (
	report_client_fetch    = "client.fetch"
	report_client_case     = "client.case"
	report_client_listing  = "client.listing"
	report_client_scenario = "client.scenario"
)

var tracer = otel.Tracer("fkd.scrapers.fkd")

type Options struct {
	BaseUrl           string
	Timeout           time.Duration
	RequestsPerSecond float64
	// CacheSize is the number of fetched bodies kept in memory, 0 disables
	// the cache.
	CacheSize int
	CacheTTL  time.Duration
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.BaseUrl == "" {
		o.BaseUrl = DefaultBaseUrl
	}
	if !strings.HasSuffix(o.BaseUrl, "/") {
		o.BaseUrl += "/"
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second * 30
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Minute * 30
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	return o
}

type Client struct {
	BaseUrl *url.URL

	http  *resty.Client
	cache *expirable.LRU[string, cachedBody]
	tel   telemetry.API
}

type cachedBody struct {
	body        []byte
	contentType string
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("fkd_scraper", tel)

	opts = opts.withDefaults()
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := resty.New()
	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetTimeout(opts.Timeout)

	// max burst >= rate just means that no requests will be dropped
	burst := max(1, int(opts.RequestsPerSecond))
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	c := &Client{
		BaseUrl: baseUrl,
		http:    httpClient,
		tel:     tel,
	}
	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, cachedBody](opts.CacheSize, nil, opts.CacheTTL)
	}
	return c, nil
}

// Bytes fetches the body at link. Bodies of successful responses are
// cached.
func (c *Client) Bytes(ctx context.Context, link string) ([]byte, error) {
	body, _, err := c.fetch(ctx, link)
	return body, err
}

func (c *Client) fetch(ctx context.Context, link string) ([]byte, string, error) {
	ctx, span := tracer.Start(ctx, "fkd.Client.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", link))

	if c.cache != nil {
		if cached, ok := c.cache.Get(link); ok {
			span.SetAttributes(attribute.Bool("cached", true))
			return cached.body, cached.contentType, nil
		}
	}

	res, err := c.http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("fetch: %w", err), link)
		return nil, "", err
	}
	if res.IsError() {
		err := fmt.Errorf("GET %s: %s", link, res.Status())
		span.SetStatus(codes.Error, res.Status())
		return nil, "", err
	}

	body := res.Body()
	contentType := res.Header().Get("content-type")
	if c.cache != nil {
		c.cache.Add(link, cachedBody{body: body, contentType: contentType})
	}
	return body, contentType, nil
}

// Document fetches and parses the page at link, decoding legacy charsets
// declared by the response or the page itself.
func (c *Client) Document(ctx context.Context, link string) (*goquery.Document, error) {
	body, contentType, err := c.fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", link, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", link, err)
	}
	return doc, nil
}

// Case fetches a case page and its scenario page and returns the complete
// record. A record that lacks required fields is returned together with a
// *MissingFieldsError.
func (c *Client) Case(ctx context.Context, caseUrl string) (CaseRecord, error) {
	c.tel.ReportDebug(report_client_case, caseUrl)

	doc, err := c.Document(ctx, caseUrl)
	if err != nil {
		return CaseRecord{}, fmt.Errorf("case page: %w", err)
	}
	record, scenarioUrl, err := ParseCase(doc, caseUrl)
	if err != nil {
		c.tel.ReportBroken(report_client_case, err, caseUrl)
		return CaseRecord{}, err
	}

	if scenarioUrl != "" {
		s, err := c.Scenario(ctx, scenarioUrl)
		if err != nil {
			return record, fmt.Errorf("scenario page: %w", err)
		}
		record.Scenario = s
	}

	return record, record.Validate()
}

// Scenario fetches and decodes a scenario page. Decoding anomalies are
// reported as warnings.
func (c *Client) Scenario(ctx context.Context, scenarioUrl string) (scenario.Structure, error) {
	doc, err := c.Document(ctx, scenarioUrl)
	if err != nil {
		return scenario.Structure{}, err
	}
	s, anomalies := scenario.DecodeWithAnomalies(ScenarioFragment(doc))
	for _, a := range anomalies {
		c.tel.ReportWarning(report_client_scenario, a.String(), scenarioUrl)
	}
	return s, nil
}

// Listing returns the case urls linked from a listing page, at most limit
// of them when limit is positive.
func (c *Client) Listing(ctx context.Context, listUrl string, limit int) ([]string, error) {
	base, err := url.Parse(listUrl)
	if err != nil {
		return nil, err
	}
	doc, err := c.Document(ctx, listUrl)
	if err != nil {
		return nil, fmt.Errorf("listing page: %w", err)
	}

	var urls []string
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("ul.list_all a"), base) {
		if !strings.Contains(anchor.Href, "/cf/") {
			continue
		}
		urls = append(urls, anchor.Href)
		if limit > 0 && len(urls) >= limit {
			break
		}
	}
	if len(urls) == 0 {
		c.tel.ReportWarning(report_client_listing, errors.New("no case links found"), listUrl)
	}
	return urls, nil
}

func (c *Client) RepresentativeImageUrl(name string) string {
	return c.BaseUrl.JoinPath("df", name).String()
}

func (c *Client) MultimediaUrl(id string) string {
	return c.BaseUrl.JoinPath("mf", id+".jpg").String()
}

func (c *Client) Representative(ctx context.Context, name string) ([]byte, error) {
	return c.Bytes(ctx, c.RepresentativeImageUrl(name))
}

func (c *Client) Multimedia(ctx context.Context, id string) ([]byte, error) {
	return c.Bytes(ctx, c.MultimediaUrl(id))
}
