package config

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"network-monitor/pkg/fetch"
)

// fetched ssconfig:// URLs are requested with this scheme
var ssconfigScheme = "https"

// SSConfig represents the shadowsocks configuration structure
type SSConfig struct {
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`
	Method     string `json:"method"`
	Password   string `json:"password"`
	Prefix     string `json:"prefix"`
}

// BuildURL converts the SSConfig into a shadowsocks transport config
func (c *SSConfig) BuildURL() (string, error) {
	if c.Server == "" || c.ServerPort <= 0 {
		return "", fmt.Errorf("shadowsocks config needs server and server_port")
	}
	if c.Method == "" {
		return "", fmt.Errorf("shadowsocks config needs a cipher method")
	}

	userInfo := base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", c.Method, c.Password)))
	u := &url.URL{
		Scheme: "ss",
		User:   url.User(userInfo),
		Host:   fmt.Sprintf("%s:%d", c.Server, c.ServerPort),
	}
	if c.Prefix != "" {
		q := url.Values{}
		q.Add("prefix", c.Prefix)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ParseSSConfig parses a JSON shadowsocks document into a transport config.
func ParseSSConfig(jsonConfig string) (string, error) {
	var config SSConfig
	if err := json.Unmarshal([]byte(jsonConfig), &config); err != nil {
		return "", fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return config.BuildURL()
}

// ResolveTransport turns the fetch.transport setting into a config the
// outline-sdk understands. ssconfig:// URLs are downloaded directly and
// replaced by the ss:// config they hold; anything else is returned as is.
func ResolveTransport(ctx context.Context, transport string) (string, error) {
	transport = strings.TrimSpace(transport)
	if !strings.HasPrefix(transport, "ssconfig://") {
		return transport, nil
	}
	return FetchSSConfig(ctx, transport)
}

// FetchSSConfig fetches and parses SS configuration from an ssconfig:// URL.
func FetchSSConfig(ctx context.Context, configURL string) (string, error) {
	u, err := url.Parse(configURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "ssconfig" {
		return "", fmt.Errorf("invalid URL scheme: must be ssconfig://")
	}
	u.Scheme = ssconfigScheme

	client, err := fetch.NewClient(fetch.Options{})
	if err != nil {
		return "", err
	}
	res, err := client.Get(ctx, u.String())
	if err != nil {
		return "", fmt.Errorf("failed to fetch config: %w", err)
	}
	if !res.OK() {
		return "", fmt.Errorf("failed to fetch config: status %d", res.StatusCode)
	}

	content := strings.TrimSpace(string(res.Body))
	if strings.HasPrefix(content, "ss://") {
		return content, nil
	}
	return ParseSSConfig(content)
}
