package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFlattenStatus(t *testing.T) {
	var status interface{}
	in := `{"time":"2024-03-01T03:00:00Z","connected":true,"ra_axis":{"degrees":90,"motion":"stopped"},"power":null,"list":[1,2]}`
	if err := json.Unmarshal([]byte(in), &status); err != nil {
		t.Fatal(err)
	}
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	ts := statusTime(fields)

	want := map[string]interface{}{
		"connected":       true,
		"ra_axis.degrees": 90.0,
		"ra_axis.motion":  "stopped",
		"list.0":          1.0,
		"list.1":          2.0,
	}
	if diff := cmp.Diff(fields, want); diff != "" {
		t.Errorf("fields: got(-)/want(+):\n%s", diff)
	}
	if !ts.Equal(time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %v", ts)
	}
}

func TestStatusTimeFallback(t *testing.T) {
	before := time.Now()
	ts := statusTime(map[string]interface{}{"time": "0001-01-01T00:00:00Z"})
	if ts.Before(before) {
		t.Errorf("zero mount time should fall back to now, got %v", ts)
	}
}
