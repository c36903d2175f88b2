package models

import "time"

// ServerCandidate is a speedtest endpoint as reported by the catalog.
type ServerCandidate struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Location string  `json:"location"`
	Country  string  `json:"country"`
	Host     string  `json:"host,omitempty"`
	Distance float64 `json:"distance"`
}

// DisplayLocation joins location and country the way records store it.
func (s ServerCandidate) DisplayLocation() string {
	return JoinLocation(s.Location, s.Country)
}

// JoinLocation renders "<location>, <country>", dropping empty parts.
func JoinLocation(location, country string) string {
	switch {
	case location == "":
		return country
	case country == "":
		return location
	default:
		return location + ", " + country
	}
}

// ServerPerformance is the outcome of benchmarking one candidate.
type ServerPerformance struct {
	ServerID     int       `json:"server_id"`
	ServerName   string    `json:"server_name"`
	Location     string    `json:"location"`
	Distance     float64   `json:"distance"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`
	JitterMs     float64   `json:"jitter"`
	Score        float64   `json:"score"`
	TestedAt     time.Time `json:"test_time"`
}
