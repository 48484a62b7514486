package exigo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/exigo-bridge/internal/pkg/httpretry"
)

// MirrorConfig holds a company's Exigo REST API credentials.
type MirrorConfig struct {
	BaseURL     string
	LoginName   string
	Password    string
	CompanyName string
	Timeout     time.Duration
	MaxRetries  int
}

// Mirror writes customer types back to Exigo through its REST API.
type Mirror struct {
	baseURL    string
	login      string
	password   string
	company    string
	httpClient httpretry.HTTPDoer
}

// NewMirror creates an Exigo REST client.
func NewMirror(cfg MirrorConfig) *Mirror {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Mirror{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		login:    cfg.LoginName,
		password: cfg.Password,
		company:  cfg.CompanyName,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, cfg.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (m *Mirror) SetHTTPClient(client httpretry.HTTPDoer) {
	m.httpClient = client
}

type updateCustomerRequest struct {
	CustomerID     int `json:"customerID"`
	CustomerTypeID int `json:"customerType"`
}

// SetCustomerTypeID sets the Exigo customer type for externalID.
func (m *Mirror) SetCustomerTypeID(ctx context.Context, externalID string, typeID int) error {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return fmt.Errorf("exigo: customer id %q is not numeric", externalID)
	}
	body, err := json.Marshal(updateCustomerRequest{CustomerID: id, CustomerTypeID: typeID})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, m.baseURL+"/customers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.login+"@"+m.company, m.password)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exigo: update customer %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("exigo: update customer %s: API error (status %d): %s", externalID, resp.StatusCode, string(respBody))
	}
	return nil
}
