package parser

import (
	"errors"
	"testing"
)

func TestParseServerList_CLIShape(t *testing.T) {
	t.Parallel()

	raw := `{"type":"serverList","servers":[
{"id":3,"host":"c.example","port":8080,"name":"Far","location":"Berlin","country":"Germany","distance":600.5},
{"id":1,"host":"a.example","port":8080,"name":"Near","location":"Utrecht","country":"Netherlands","distance":12.1},
{"id":2,"host":"b.example","port":8080,"name":"Mid","location":"Brussels","country":"Belgium","distance":170}]}`

	servers, err := ParseServerList([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerList: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("servers=%d", len(servers))
	}
	wantIDs := []int{1, 2, 3}
	for i, id := range wantIDs {
		if servers[i].ID != id {
			t.Fatalf("servers[%d].ID=%d, want %d", i, servers[i].ID, id)
		}
	}
	if servers[0].Name != "Near" || servers[0].DisplayLocation() != "Utrecht, Netherlands" {
		t.Fatalf("first=%+v", servers[0])
	}
}

func TestParseServerList_HTTPShape(t *testing.T) {
	t.Parallel()

	raw := `[{"url":"http://x/upload.php","name":"Amsterdam","country":"Netherlands","cc":"NL","sponsor":"Example BV","id":"48238","host":"x:8080","distance":5},
{"name":"Nowhere","sponsor":"Broken","id":"abc","distance":1}]`

	servers, err := ParseServerList([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerList: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("servers=%d", len(servers))
	}
	got := servers[0]
	if got.ID != 48238 || got.Name != "Example BV" || got.Location != "Amsterdam" {
		t.Fatalf("server=%+v", got)
	}
}

func TestParseServerList_StableForEqualDistance(t *testing.T) {
	t.Parallel()

	raw := `{"servers":[{"id":5,"distance":10},{"id":4,"distance":10},{"id":9}]}`
	servers, err := ParseServerList([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerList: %v", err)
	}
	if servers[0].ID != 9 || servers[1].ID != 5 || servers[2].ID != 4 {
		t.Fatalf("order=%d,%d,%d", servers[0].ID, servers[1].ID, servers[2].ID)
	}
}

func TestParseServerList_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "nope", `{"servers":{}}`} {
		if _, err := ParseServerList([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseServerList(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}
