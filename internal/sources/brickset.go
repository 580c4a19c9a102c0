package sources

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBrickSetBaseURL = "https://brickset.com/api/v3.asmx"

// BrickSetClient fetches community set data (pieces, rating, owned/wanted
// counts) from the BrickSet v3 API.
type BrickSetClient struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

// NewBrickSetClient creates an adapter with the given API key.
func NewBrickSetClient(apiKey string, timeout time.Duration) *BrickSetClient {
	client := resty.New()
	client.SetTimeout(timeout)

	return &BrickSetClient{
		client:  client,
		baseURL: defaultBrickSetBaseURL,
		apiKey:  apiKey,
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *BrickSetClient) SetBaseURL(base string) {
	c.baseURL = base
}

type brickSetResponse struct {
	Status  string `json:"status"`
	Matches int    `json:"matches"`
	Sets    []struct {
		Name        string `json:"name"`
		Pieces      any    `json:"pieces"`
		Minifigs    any    `json:"minifigs"`
		Theme       string `json:"theme"`
		Year        any    `json:"year"`
		Rating      any    `json:"rating"`
		Collections struct {
			OwnedBy  any `json:"ownedBy"`
			WantedBy any `json:"wantedBy"`
		} `json:"collections"`
	} `json:"sets"`
}

// FetchSet returns the community fields for a set number, requesting extended
// data so owned/wanted counts are populated.
func (c *BrickSetClient) FetchSet(ctx context.Context, setNumber string) Outcome {
	return observe("brickset", func() Outcome {
		inner, _ := json.Marshal(map[string]any{"setNumber": setNumber, "extendedData": 1})

		resp, err := c.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"apiKey":   c.apiKey,
				"userHash": "",
				"params":   string(inner),
			}).
			Post(c.baseURL + "/getSets")
		if err != nil {
			return Failf("transport", "brickset request failed: %v", err)
		}
		if resp.StatusCode() != 200 {
			return Failf(strconv.Itoa(resp.StatusCode()), "HTTP %d", resp.StatusCode())
		}

		var body brickSetResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return Failf("malformed", "brickset body not JSON: %v", err)
		}
		if body.Status != "success" || body.Matches <= 0 || len(body.Sets) == 0 {
			return Fail("no_match", "No match")
		}

		s := body.Sets[0]
		return OK(Fields{
			"Set Name (BrickSet)": s.Name,
			"Pieces":              s.Pieces,
			"Minifigs":            s.Minifigs,
			"Theme":               s.Theme,
			"Year":                s.Year,
			"Rating":              s.Rating,
			"Users Owned":         s.Collections.OwnedBy,
			"Users Wanted":        s.Collections.WantedBy,
		})
	})
}
