package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestampFormat(t *testing.T) {
	ts := time.Date(2023, 7, 14, 9, 5, 3, 123456789, time.UTC)

	b, err := json.Marshal(Timestamp(ts))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `"2023-07-14T09:05:03"`; got != want {
		t.Errorf("Timestamp = %s, want %s", got, want)
	}
}

func TestProfileTimestampFormat(t *testing.T) {
	ts := time.Date(2023, 7, 14, 9, 5, 3, 123456000, time.UTC)

	b, err := json.Marshal(ProfileTimestamp(ts))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `"2023-07-14T09:05:03.123456Z"`; got != want {
		t.Errorf("ProfileTimestamp = %s, want %s", got, want)
	}
}

func TestTimestampInsidePayload(t *testing.T) {
	payload := map[string]any{
		"timeframes": []map[string]any{
			{"start": Timestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), "resolution": 4},
		},
	}
	b, err := json.Marshal(Request{Route: "logs", ID: 1, Data: payload})
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Data struct {
			Timeframes []struct {
				Start string `json:"start"`
			} `json:"timeframes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if got, want := decoded.Data.Timeframes[0].Start, "2024-01-02T03:04:05"; got != want {
		t.Errorf("start = %q, want %q", got, want)
	}
}

func TestResponseErrorField(t *testing.T) {
	var resp Response
	if err := json.Unmarshal([]byte(`{"id":3,"error":"bad route"}`), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != 3 {
		t.Errorf("id = %d, want 3", resp.ID)
	}
	if resp.Error == nil || *resp.Error != "bad route" {
		t.Errorf("error = %v, want %q", resp.Error, "bad route")
	}

	var ok Response
	if err := json.Unmarshal([]byte(`{"id":4,"data":{"x":1}}`), &ok); err != nil {
		t.Fatal(err)
	}
	if ok.Error != nil {
		t.Errorf("success frame decoded with error %q", *ok.Error)
	}
}
