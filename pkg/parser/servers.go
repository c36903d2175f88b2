package parser

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"network-monitor/pkg/models"
	"network-monitor/pkg/probe"
)

// ParseServerList parses a server catalog. Both the CLI shape
// ({"servers":[...]}) and the bare array served by the HTTP catalog are
// accepted; ids may be numbers or numeric strings. Entries without a usable
// id are dropped. The result is ordered by ascending distance, keeping the
// catalog's order among equal distances.
func ParseServerList(raw []byte) ([]models.ServerCandidate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid server list %q", ErrMalformed, probe.Truncate(string(raw), snippetLen))
	}

	doc := gjson.ParseBytes(raw)
	list := doc
	if doc.IsObject() {
		list = doc.Get("servers")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: server list is not an array", ErrMalformed)
	}

	var servers []models.ServerCandidate
	list.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").Int()
		if id <= 0 {
			return true
		}
		distance := item.Get("distance").Float()
		if distance < 0 {
			distance = 0
		}
		name := item.Get("name").String()
		location := item.Get("location").String()
		// The HTTP catalog names the operator "sponsor" and the city "name".
		if sponsor := item.Get("sponsor"); sponsor.Exists() {
			location, name = name, sponsor.String()
		}
		servers = append(servers, models.ServerCandidate{
			ID:       int(id),
			Name:     name,
			Location: location,
			Country:  item.Get("country").String(),
			Host:     item.Get("host").String(),
			Distance: distance,
		})
		return true
	})

	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Distance < servers[j].Distance
	})
	return servers, nil
}
