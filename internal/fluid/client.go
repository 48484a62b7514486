package fluid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/pkg/httpretry"
)

// Config holds one company's Fluid connection settings.
type Config struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	MaxRetries int
}

// Client is the Fluid REST API client. It implements the platform side of
// reconciliation: customer lookup, tier tagging, and subscription checks.
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a Fluid client that authenticates with a bearer token.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken, TokenType: "Bearer"}),
		Base:   http.DefaultTransport,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout:   timeout,
			Transport: transport,
		}, cfg.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs a request against the Fluid API and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, endpoint, ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return ErrTimeout
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{Status: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FindCustomerByExternalID looks up the customer carrying the given back
// office ID. It returns nil, nil when no customer matches.
func (c *Client) FindCustomerByExternalID(ctx context.Context, externalID string) (*domain.Customer, error) {
	want := domain.NormalizeExternalID(externalID)
	q := url.Values{}
	q.Set("external_id", want)

	var list customerList
	if err := c.doRequest(ctx, http.MethodGet, "/api/customers?"+q.Encode(), nil, &list); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	// The filter is a prefix search on some accounts; confirm the match.
	for _, ac := range list.Customers {
		cust := ac.toDomain()
		if cust.ExternalID == want {
			return &cust, nil
		}
	}
	return nil, nil
}

// GetCustomer fetches a customer by Fluid ID. It returns nil, nil when
// the customer does not exist.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	ac, err := c.getCustomer(ctx, customerID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cust := ac.toDomain()
	return &cust, nil
}

func (c *Client) getCustomer(ctx context.Context, customerID string) (apiCustomer, error) {
	var env customerEnvelope
	if err := c.doRequest(ctx, http.MethodGet, "/api/customers/"+url.PathEscape(customerID), nil, &env); err != nil {
		return apiCustomer{}, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	return env.Customer, nil
}

// SetCustomerTier writes the tier tag into the customer's metadata.
func (c *Client) SetCustomerTier(ctx context.Context, customerID string, tier domain.CustomerType) error {
	if !tier.Valid() {
		return fmt.Errorf("set customer tier: invalid tier %q", tier)
	}
	var body metadataUpdate
	body.Customer.Metadata = map[string]string{MetadataCustomerType: string(tier)}
	if err := c.doRequest(ctx, http.MethodPatch, "/api/customers/"+url.PathEscape(customerID), body, nil); err != nil {
		return fmt.Errorf("set customer %s tier: %w", customerID, err)
	}
	return nil
}

// HasActiveSubscription reports whether the customer has at least one
// active Fluid-native subscription.
func (c *Client) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	q := url.Values{}
	q.Set("customer_id", customerID)
	q.Set("status", "active")

	var list subscriptionList
	if err := c.doRequest(ctx, http.MethodGet, "/api/subscriptions?"+q.Encode(), nil, &list); err != nil {
		return false, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	for _, s := range list.Subscriptions {
		if strings.EqualFold(s.Status, "active") {
			return true, nil
		}
	}
	return false, nil
}

// HasActiveAutoshipFlag reports the platform-native autoship flag stored
// on the customer record.
func (c *Client) HasActiveAutoshipFlag(ctx context.Context, customerID string) (bool, error) {
	ac, err := c.getCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}
	return ac.autoshipActive(), nil
}

// ListCustomers returns one page of the company's customers.
func (c *Client) ListCustomers(ctx context.Context, page, perPage int) (CustomerPage, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var list customerList
	if err := c.doRequest(ctx, http.MethodGet, "/api/customers?"+q.Encode(), nil, &list); err != nil {
		return CustomerPage{}, fmt.Errorf("list customers page %d: %w", page, err)
	}

	out := CustomerPage{
		Customers:  make([]domain.Customer, 0, len(list.Customers)),
		Page:       page,
		TotalPages: list.Meta.Pagination.TotalPages,
	}
	for _, ac := range list.Customers {
		out.Customers = append(out.Customers, ac.toDomain())
	}
	// Older accounts omit pagination meta; a short page is the last one.
	if out.TotalPages == 0 {
		out.TotalPages = page
		if len(list.Customers) == perPage {
			out.TotalPages = page + 1
		}
	}
	return out, nil
}
