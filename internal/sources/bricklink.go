package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"brickradar/internal/model"

	"github.com/go-resty/resty/v2"
)

const defaultBrickLinkBaseURL = "https://api.bricklink.com/api/store/v1"

// BrickLinkClient fetches set metadata and price guides from the BrickLink
// store API using OAuth1 request signing.
type BrickLinkClient struct {
	client  *resty.Client
	baseURL string
	signer  *oauth1Signer
	fp      string
}

// NewBrickLinkClient creates an adapter with the given OAuth1 credential quad.
func NewBrickLinkClient(consumerKey, consumerSecret, token, tokenSecret string, timeout time.Duration) *BrickLinkClient {
	client := resty.New()
	client.SetTimeout(timeout)

	return &BrickLinkClient{
		client:  client,
		baseURL: defaultBrickLinkBaseURL,
		signer:  newOAuth1Signer(consumerKey, consumerSecret, token, tokenSecret),
		fp:      model.Fingerprint(consumerKey, consumerSecret, token, tokenSecret),
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *BrickLinkClient) SetBaseURL(base string) {
	c.baseURL = base
}

// CredentialFingerprint identifies the credential quad for cache key
// construction; rotated credentials get fresh cache entries.
func (c *BrickLinkClient) CredentialFingerprint() string {
	return c.fp
}

// blEnvelope is the BrickLink response wrapper. Meta codes arrive as ints
// for HTTP-style statuses and as strings for business errors
// ("INVALID_URI", "PARAMETER_MISSING_OR_INVALID"), so the field stays
// untyped until rendered.
type blEnvelope struct {
	Meta struct {
		Code        any    `json:"code"`
		Description string `json:"description"`
		Message     string `json:"message"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// PriceQuery selects a BrickLink price guide variant.
type PriceQuery struct {
	GuideType    string // "stock" | "sold"
	NewOrUsed    string // "N" | "U"
	CurrencyCode string
	CountryCode  string
	Region       string
	VAT          string // "N" | "Y" | "O"
}

// Params returns the query as a parameter mapping, the form hashed into the
// query log and result store key.
func (q PriceQuery) Params() map[string]any {
	params := map[string]any{
		"guide_type":  q.GuideType,
		"new_or_used": q.NewOrUsed,
	}
	if q.CurrencyCode != "" {
		params["currency_code"] = q.CurrencyCode
	}
	if q.CountryCode != "" {
		params["country_code"] = q.CountryCode
	}
	if q.Region != "" {
		params["region"] = q.Region
	}
	if q.VAT == "N" || q.VAT == "Y" || q.VAT == "O" {
		params["vat"] = q.VAT
	}
	return params
}

func (q PriceQuery) values() url.Values {
	v := url.Values{}
	for k, val := range q.Params() {
		v.Set(k, fmt.Sprint(val))
	}
	return v
}

// FetchMetadata returns the set name and category for a set number.
func (c *BrickLinkClient) FetchMetadata(ctx context.Context, setNumber string) Outcome {
	return observe("bricklink", func() Outcome {
		u := fmt.Sprintf("%s/items/SET/%s", c.baseURL, setNumber)
		env, out := c.get(ctx, u, nil)
		if env == nil {
			return out
		}

		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil || data == nil {
			return Fail(metaCode(env), metaMessage(env, "No data"))
		}
		return OK(Fields{
			"Set Name":    data["name"],
			"Category ID": data["category_id"],
		})
	})
}

// FetchPrice returns the price guide fields for a set number.
func (c *BrickLinkClient) FetchPrice(ctx context.Context, setNumber string, q PriceQuery) Outcome {
	return observe("bricklink", func() Outcome {
		u := fmt.Sprintf("%s/items/SET/%s/price", c.baseURL, setNumber)
		env, out := c.get(ctx, u, q.values())
		if env == nil {
			return out
		}

		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil || data == nil {
			return Fail(metaCode(env), metaMessage(env, "No data"))
		}
		return OK(Fields{
			"avg_price":     data["avg_price"],
			"qty_avg_price": data["qty_avg_price"],
			"min_price":     data["min_price"],
			"max_price":     data["max_price"],
			"currency_code": data["currency_code"],
			"price_detail":  data["price_detail"],
		})
	})
}

// get performs a signed GET. A nil envelope means the returned Outcome
// already carries the failure.
func (c *BrickLinkClient) get(ctx context.Context, rawURL string, query url.Values) (*blEnvelope, Outcome) {
	header, err := c.signer.authorizationHeader("GET", rawURL, query)
	if err != nil {
		return nil, Failf("sign", "oauth signing failed: %v", err)
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", header)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		return nil, Failf("transport", "bricklink request failed: %v", err)
	}
	if resp.StatusCode() != 200 {
		return nil, Failf(strconv.Itoa(resp.StatusCode()), "HTTP %d", resp.StatusCode())
	}

	var env blEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, Failf("malformed", "bricklink body not JSON: %v", err)
	}
	return &env, Outcome{}
}

// metaCode renders the meta code for UpstreamError.Code, preserving string
// business codes and int statuses alike.
func metaCode(env *blEnvelope) string {
	switch v := env.Meta.Code.(type) {
	case nil:
		return "?"
	case string:
		return v
	case float64:
		return strconv.Itoa(int(v))
	default:
		return fmt.Sprint(v)
	}
}

func metaMessage(env *blEnvelope, fallback string) string {
	if env.Meta.Description != "" {
		return env.Meta.Description
	}
	if env.Meta.Message != "" {
		return env.Meta.Message
	}
	return fallback
}
