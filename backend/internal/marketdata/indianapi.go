package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// DefaultIndianAPIBaseURL is the public stock.indianapi.in endpoint.
const DefaultIndianAPIBaseURL = "https://stock.indianapi.in"

// Price fields tried in order on a /stock response. Exchange quotes first,
// then the flat fields older responses used.
var indianAPIPricePaths = []string{
	"$.currentPrice.BSE",
	"$.currentPrice.NSE",
	"$.bsePrice",
	"$.nsePrice",
	"$.price",
	"$.data.price",
	"$.last_price",
	"$.close",
}

// IndianAPI reads quotes from stock.indianapi.in.
type IndianAPI struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewIndianAPI returns an adapter for baseURL (DefaultIndianAPIBaseURL when
// empty). A nil client gets a 10s timeout.
func NewIndianAPI(client *http.Client, baseURL, apiKey string) *IndianAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultIndianAPIBaseURL
	}
	return &IndianAPI{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (p *IndianAPI) Name() string { return "indianapi" }

// CurrentPrice returns the first positive price found in the /stock response.
func (p *IndianAPI) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{"name": {symbol}}
	var jobj any
	if err := p.getJSON(ctx, "/stock", q, &jobj); err != nil {
		return decimal.Zero, unavailable(p.Name(), symbol, err)
	}
	for _, path := range indianAPIPricePaths {
		jval, err := jsonpath.Get(path, jobj)
		if err != nil {
			continue
		}
		// jsonpath may hand back a one-element list; keep the first.
		if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
			jval = jlist[0]
		}
		if d, ok := toDecimal(jval); ok && d.IsPositive() {
			return d, nil
		}
	}
	return decimal.Zero, unavailable(p.Name(), symbol, ErrNoPrice)
}

/*
	{
	  "datasets": [
	    {
	      "metric": "Price",
	      "label": "Price on NSE",
	      "values": [["2024-05-02", "2874.15"], ["2024-05-03", "2868.9"]]
	    },
	    {"metric": "Volume", "values": [...]}
	  ]
	}
*/
type indianAPIHistory struct {
	Datasets []struct {
		Metric string  `json:"metric"`
		Values [][]any `json:"values"`
	} `json:"datasets"`
}

// HistoricalCloses reads the Price dataset of /historical_data.
func (p *IndianAPI) HistoricalCloses(ctx context.Context, symbol, period string) ([]Close, error) {
	if period == "" {
		period = DefaultPeriod
	}
	if _, err := PeriodStart(period, time.Now()); err != nil {
		return nil, err
	}
	q := url.Values{"stock_name": {symbol}, "period": {period}, "filter": {"price"}}
	var h indianAPIHistory
	if err := p.getJSON(ctx, "/historical_data", q, &h); err != nil {
		return nil, unavailable(p.Name(), symbol, err)
	}

	for _, ds := range h.Datasets {
		if !strings.EqualFold(ds.Metric, "price") {
			continue
		}
		closes := make([]Close, 0, len(ds.Values))
		for _, row := range ds.Values {
			if len(row) < 2 {
				continue
			}
			day, ok := row[0].(string)
			if !ok {
				continue
			}
			date, err := time.Parse("2006-01-02", day)
			if err != nil {
				continue
			}
			price, ok := toDecimal(row[1])
			if !ok || !price.IsPositive() {
				continue
			}
			closes = append(closes, Close{Date: date, Price: price})
		}
		if len(closes) == 0 {
			break
		}
		return closes, nil
	}
	return nil, unavailable(p.Name(), symbol, ErrNoPrice)
}

func (p *IndianAPI) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cannot http GET %v%v: %v", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, 8<<20)); err != nil {
		return err
	}
	return json.Unmarshal(buf.Bytes(), out)
}

// toDecimal accepts JSON numbers and numeric strings ("1,234.5" included).
func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
