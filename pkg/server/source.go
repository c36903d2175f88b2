package server

import (
	"context"
	"fmt"
	"os"

	"network-monitor/pkg/fetch"
	"network-monitor/pkg/models"
	"network-monitor/pkg/parser"
	"network-monitor/pkg/probe"
)

// Source lists speedtest server candidates.
type Source interface {
	List(ctx context.Context) ([]models.ServerCandidate, error)
}

// CLISource asks the speedtest CLI for nearby servers.
type CLISource struct {
	Invoker   probe.Invoker
	Speedtest probe.Speedtest
}

func (s *CLISource) List(ctx context.Context) ([]models.ServerCandidate, error) {
	out, err := s.Invoker.Invoke(ctx, s.Speedtest.List())
	if err != nil {
		return nil, err
	}
	return parser.ParseServerList(out.Stdout)
}

// HTTPSource fetches a JSON catalog from URL.
type HTTPSource struct {
	URL    string
	Client *fetch.Client
}

func NewHTTPSource(url string, opts fetch.Options) (*HTTPSource, error) {
	if url == "" {
		return nil, fmt.Errorf("catalog URL is required")
	}
	opts.Headers = append(opts.Headers, "Accept: application/json")
	client, err := fetch.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &HTTPSource{URL: url, Client: client}, nil
}

func (s *HTTPSource) List(ctx context.Context) ([]models.ServerCandidate, error) {
	res, err := s.Client.Get(ctx, s.URL)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("GET %s: status %d", s.URL, res.StatusCode)
	}
	return parser.ParseServerList(res.Body)
}

// FileSource reads a catalog saved on disk in either accepted JSON shape.
type FileSource struct {
	Path string
}

func (s *FileSource) List(_ context.Context) ([]models.ServerCandidate, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return parser.ParseServerList(data)
}
