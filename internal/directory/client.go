package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultUserAgent      = "userdir-sync/1.0"
	maxErrorBodyBytes     = 512
)

var (
	// ErrRemoteUnavailable covers transport failures, timeouts, non-2xx answers
	// and undecodable payloads from the remote directory.
	ErrRemoteUnavailable = errors.New("directory: remote unavailable")

	errMissingBaseURL = errors.New("directory: base url required")
	errInvalidPage    = errors.New("directory: page number must be positive")
)

// Record is one user as published by the remote directory.
type Record struct {
	ExternalID int64
	Email      string
	FirstName  string
	LastName   string
	AvatarURL  string
}

// Page is one page of the remote directory together with its paging metadata.
type Page struct {
	Number     int
	PerPage    int
	Total      int
	TotalPages int
	Records    []Record
}

// ClientConfig configures the remote directory client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client reads pages from a reqres-style user directory (GET {base}/users?page=N).
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("directory: invalid base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		userAgent:  userAgent,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// FetchPage retrieves a single page. Every failure talking to the remote is
// reported as ErrRemoteUnavailable; the request is bounded by the client timeout.
func (c *Client) FetchPage(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		return Page{}, errInvalidPage
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	endpoint := c.baseURL + "/users?" + query.Encode()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: build request: %w", ErrRemoteUnavailable, err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		request.Header.Set("x-api-key", c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Page{}, fmt.Errorf("%w: page %d: %w", ErrRemoteUnavailable, page, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return Page{}, fmt.Errorf("%w: page %d: status %d: %s", ErrRemoteUnavailable, page, response.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var document pageDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return Page{}, fmt.Errorf("%w: page %d: decode payload: %w", ErrRemoteUnavailable, page, err)
	}
	if document.Data == nil {
		return Page{}, fmt.Errorf("%w: page %d: payload missing data", ErrRemoteUnavailable, page)
	}
	if document.TotalPages < 0 || document.Total < 0 || document.PerPage < 0 {
		return Page{}, fmt.Errorf("%w: page %d: negative paging metadata", ErrRemoteUnavailable, page)
	}

	return document.toPage(page), nil
}

type pageDocument struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"per_page"`
	Total      int               `json:"total"`
	TotalPages int               `json:"total_pages"`
	Data       *[]recordDocument `json:"data"`
}

type recordDocument struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
}

func (d pageDocument) toPage(requested int) Page {
	number := d.Page
	if number == 0 {
		number = requested
	}
	var items []recordDocument
	if d.Data != nil {
		items = *d.Data
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, Record{
			ExternalID: item.ID,
			Email:      item.Email,
			FirstName:  item.FirstName,
			LastName:   item.LastName,
			AvatarURL:  item.Avatar,
		})
	}
	return Page{
		Number:     number,
		PerPage:    d.PerPage,
		Total:      d.Total,
		TotalPages: d.TotalPages,
		Records:    records,
	}
}
