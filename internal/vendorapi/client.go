// Package vendorapi wraps the charging-station operator's device API. The
// core treats it as a black box: one call per station returning the
// current port readings.
package vendorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"charging-alert-backend/config"
)

// Device carries the subset of the vendor's device record the poller
// cares about.
type Device struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SimID      string `json:"simId"`
	PortNumber int    `json:"portNumber"`
	Online     int    `json:"online"`
	Address    string `json:"address"`
}

// PortDetail is the vendor's per-station port reading. Ports[0] is a
// placeholder; Ports[1..n] carry socket states.
type PortDetail struct {
	Ports        []int  `json:"ports"`
	MachineFault int    `json:"machineFault"`
	ErrorMsg     string `json:"errorMsg"`
	Device       Device `json:"device"`
}

type apiResponse struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is a thin typed wrapper over the vendor HTTP endpoints.
type Client struct {
	baseURL        string
	channelMessage string
	token          string
	client         *http.Client
}

// NewClient builds a vendor client from configuration.
func NewClient(cfg config.VendorConfig) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		channelMessage: cfg.ChannelMessage,
		token:          cfg.Token,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// DeviceDetail fetches the current port readings for one station.
func (c *Client) DeviceDetail(ctx context.Context, simID string) (*PortDetail, error) {
	form := url.Values{}
	form.Set("simId", simID)
	form.Set("mapType", "2")
	form.Set("chargeTypeTag", "0")
	form.Set("appEntrance", "1")
	form.Set("version", "new")

	var detail PortDetail
	if err := c.post(ctx, "/portDetail", form, &detail); err != nil {
		return nil, fmt.Errorf("device detail for sim %s: %w", simID, err)
	}
	return &detail, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s%s?channelMessage=%s", c.baseURL, path, url.QueryEscape(c.channelMessage))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")
	if c.token != "" {
		req.Header.Set("token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if !apiResp.Success || apiResp.Code != http.StatusOK {
		return fmt.Errorf("API error (code %d): %s", apiResp.Code, apiResp.Message)
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal api data: %w", err)
	}
	return nil
}
