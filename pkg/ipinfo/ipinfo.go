// Package ipinfo looks up the public IP and its network owner on ipinfo.io.
// It is used to fill in the ISP when the speedtest result does not carry one.
package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"network-monitor/pkg/fetch"
	"network-monitor/pkg/models"
)

const DefaultBaseURL = "https://ipinfo.io"

type IPInfoResponse struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Anycast  bool   `json:"anycast"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
}

// ASN splits Org ("AS15169 Google LLC") into its AS number and name. When Org
// has no AS prefix the whole string is the name.
func (r IPInfoResponse) ASN() (number, name string) {
	orgParts := strings.SplitN(r.Org, " ", 2)
	if len(orgParts) == 2 && strings.HasPrefix(orgParts[0], "AS") {
		return strings.TrimPrefix(orgParts[0], "AS"), orgParts[1]
	}
	return "", r.Org
}

type Client struct {
	BaseURL string
	Token   string
	http    *fetch.Client
}

func NewClient(baseURL, token, transport string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c, err := fetch.NewClient(fetch.Options{
		Transport: transport,
		Headers:   []string{"Accept: application/json"},
		Timeout:   10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/"), Token: token, http: c}, nil
}

// GetIPInfo looks up ip. An empty ip looks up the caller's own address.
func (c *Client) GetIPInfo(ctx context.Context, ip string) (IPInfoResponse, error) {
	path := "/json"
	if ip != "" {
		path = "/" + ip + "/json"
	}
	url := c.BaseURL + path
	if c.Token != "" {
		url += "?token=" + c.Token
	}

	res, err := c.http.Get(ctx, url)
	if err != nil {
		return IPInfoResponse{}, err
	}
	if !res.OK() {
		return IPInfoResponse{}, fmt.Errorf("ipinfo lookup: status %d", res.StatusCode)
	}

	var ipInfo IPInfoResponse
	if err := json.Unmarshal(res.Body, &ipInfo); err != nil {
		return IPInfoResponse{}, fmt.Errorf("decode ipinfo response: %w", err)
	}
	return ipInfo, nil
}

// UpdateMeasurementWithIPInfo fills the ISP and external IP of rec where
// they are empty.
func UpdateMeasurementWithIPInfo(rec *models.MeasurementRecord, ipInfo IPInfoResponse) {
	if rec.ISP == "" {
		_, rec.ISP = ipInfo.ASN()
	}
	if rec.ExternalIP == "" {
		rec.ExternalIP = ipInfo.IP
	}
}
