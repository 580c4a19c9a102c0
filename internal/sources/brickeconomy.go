package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBrickEconomyBaseURL = "https://www.brickeconomy.com/api/v1"
	brickEconomySetURL         = "https://www.brickeconomy.com/set/%s"
)

// retailPriceKeyByCurrency maps a currency code to the matching regional
// retail price field of the BrickEconomy set payload.
var retailPriceKeyByCurrency = map[string]string{
	"USD": "retail_price_us",
	"GBP": "retail_price_uk",
	"CAD": "retail_price_ca",
	"EUR": "retail_price_eu",
	"AUD": "retail_price_au",
}

// BrickEconomyClient fetches market valuation data from the BrickEconomy API.
type BrickEconomyClient struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

// NewBrickEconomyClient creates an adapter with the given API key.
func NewBrickEconomyClient(apiKey string, timeout time.Duration) *BrickEconomyClient {
	client := resty.New()
	client.SetTimeout(timeout)

	return &BrickEconomyClient{
		client:  client,
		baseURL: defaultBrickEconomyBaseURL,
		apiKey:  apiKey,
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *BrickEconomyClient) SetBaseURL(base string) {
	c.baseURL = base
}

// FetchSet returns the valuation fields for a set number in the given
// currency.
func (c *BrickEconomyClient) FetchSet(ctx context.Context, setNumber, currency string) Outcome {
	return observe("brickeconomy", func() Outcome {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("accept", "application/json").
			SetHeader("x-apikey", c.apiKey).
			SetHeader("User-Agent", "brickradar/1.0").
			SetQueryParam("currency", currency).
			Get(c.baseURL + "/set/" + setNumber)
		if err != nil {
			return Failf("transport", "brickeconomy request failed: %v", err)
		}

		var body struct {
			Data  map[string]any `json:"data"`
			Error string         `json:"error"`
		}
		decodeErr := json.Unmarshal(resp.Body(), &body)

		if resp.StatusCode() != 200 || decodeErr != nil || body.Data == nil {
			msg := body.Error
			if msg == "" {
				msg = fmt.Sprintf("HTTP %d", resp.StatusCode())
			}
			return Fail(strconv.Itoa(resp.StatusCode()), msg)
		}

		data := body.Data
		retailKey, ok := retailPriceKeyByCurrency[strings.ToUpper(currency)]
		if !ok {
			retailKey = "retail_price_us"
		}

		return OK(Fields{
			"Name":                 data["name"],
			"Theme":                data["theme"],
			"Year":                 data["year"],
			"Retail Price":         data[retailKey],
			"Current Value (New)":  data["current_value_new"],
			"Current Value (Used)": data["current_value_used"],
			"Growth % (12m)":       data["rolling_growth_12months"],
			"Currency":             data["currency"],
			"URL":                  fmt.Sprintf(brickEconomySetURL, setNumber),
		})
	})
}
