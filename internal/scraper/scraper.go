package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"legalchat/internal/config"
	"legalchat/internal/models"
)

var (
	// ErrNetwork is returned when the legislature site cannot be reached
	// or answers with a non-2xx status.
	ErrNetwork = errors.New("legislature site unreachable")
	// ErrParse is returned when the page layout no longer matches the
	// expected bill table.
	ErrParse = errors.New("legislature page layout changed")
)

// Some government sites answer 403 to default Go user agents.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

const cacheKey = "scraper:bills"

// Cache is the small slice of the redis wrapper the scraper uses. A nil
// Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Scraper fetches the list of recently filed bills from the lower
// chamber's public site.
type Scraper struct {
	client   *http.Client
	listURL  string
	baseURL  *url.URL
	cache    Cache
	cacheTTL time.Duration
}

func New(cfg config.ScraperConfig, cache Cache) (*Scraper, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	ttl := time.Duration(cfg.CacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Scraper{
		client:   &http.Client{Timeout: 20 * time.Second},
		listURL:  cfg.ListURL,
		baseURL:  base,
		cache:    cache,
		cacheTTL: ttl,
	}, nil
}

// Scrape returns up to limit bills in page order. Results are served
// from the cache when fresh; a cache failure falls through to a live
// fetch.
func (s *Scraper) Scrape(ctx context.Context, limit int) ([]models.BillRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	bills, ok := s.fromCache(ctx)
	if !ok {
		var err error
		bills, err = s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.toCache(ctx, bills)
	}
	if len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Scraper) fetch(ctx context.Context) ([]models.BillRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return s.parse(doc)
}

func (s *Scraper) parse(doc *goquery.Document) ([]models.BillRecord, error) {
	table := doc.Find("table.table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: bill table not found", ErrParse)
	}
	body := table.Find("tbody").First()
	if body.Length() == 0 {
		return nil, fmt.Errorf("%w: bill table has no body", ErrParse)
	}

	var bills []models.BillRecord
	body.Find("tr.tablacomispro").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		bills = append(bills, models.BillRecord{
			Number: strings.TrimSpace(cells.Eq(0).Text()),
			Title:  titleText(cells.Eq(1)),
			Status: strings.TrimSpace(cells.Eq(2).Text()),
			Link:   s.resolveLink(cells.Eq(1)),
		})
	})
	return bills, nil
}

// titleText prefers the anchor's text over the cell's own text.
func titleText(cell *goquery.Selection) string {
	if anchor := cell.Find("a").First(); anchor.Length() > 0 {
		if text := strings.TrimSpace(anchor.Text()); text != "" {
			return text
		}
	}
	return strings.TrimSpace(cell.Text())
}

// resolveLink turns the title cell's anchor into an absolute URL, or
// "N/A" when the row carries no link.
func (s *Scraper) resolveLink(cell *goquery.Selection) string {
	href, ok := cell.Find("a").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "N/A"
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "N/A"
	}
	return s.baseURL.ResolveReference(ref).String()
}

func (s *Scraper) fromCache(ctx context.Context) ([]models.BillRecord, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, false
	}
	var bills []models.BillRecord
	if err := json.Unmarshal([]byte(payload), &bills); err != nil {
		log.Printf("scraper: discarding bad cache entry: %v", err)
		return nil, false
	}
	return bills, true
}

func (s *Scraper) toCache(ctx context.Context, bills []models.BillRecord) {
	if s.cache == nil || len(bills) == 0 {
		return
	}
	payload, err := json.Marshal(bills)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, string(payload), s.cacheTTL); err != nil {
		log.Printf("scraper: cache write failed: %v", err)
	}
}
