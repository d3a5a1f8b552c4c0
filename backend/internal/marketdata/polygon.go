package marketdata

import (
	"context"
	"net/http"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	rmodels "github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"
)

// Polygon reads daily aggregates from polygon.io.
type Polygon struct {
	rest *polygonrest.Client
	now  func() time.Time
}

// NewPolygon returns an adapter authenticated with key.
func NewPolygon(key string) *Polygon {
	return &Polygon{
		rest: polygonrest.NewWithClient(key, &http.Client{Timeout: 10 * time.Second}),
		now:  time.Now,
	}
}

func (p *Polygon) Name() string { return "polygon" }

// CurrentPrice is the close of the most recent minute bar in the last week,
// which covers weekends and holidays.
func (p *Polygon) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	now := p.now()
	params := &rmodels.ListAggsParams{
		Ticker:     symbol,
		Timespan:   rmodels.Minute,
		Multiplier: 1,
		From:       rmodels.Millis(now.AddDate(0, 0, -7)),
		// REST 'To' is exclusive; one minute ahead includes the current bar.
		To: rmodels.Millis(now.Add(time.Minute)),
	}
	lim := 1
	desc := rmodels.Desc
	adj := true
	params.Limit = &lim
	params.Order = &desc
	params.Adjusted = &adj

	iter := p.rest.ListAggs(ctx, params)
	for iter.Next() {
		if c := iter.Item().Close; c > 0 {
			return decimal.NewFromFloat(c), nil
		}
	}
	if err := iter.Err(); err != nil {
		return decimal.Zero, unavailable(p.Name(), symbol, err)
	}
	return decimal.Zero, unavailable(p.Name(), symbol, ErrNoPrice)
}

// HistoricalCloses returns one close per trading day over period.
func (p *Polygon) HistoricalCloses(ctx context.Context, symbol, period string) ([]Close, error) {
	now := p.now()
	from, err := PeriodStart(period, now)
	if err != nil {
		return nil, err
	}
	params := &rmodels.ListAggsParams{
		Ticker:     symbol,
		Timespan:   rmodels.Day,
		Multiplier: 1,
		From:       rmodels.Millis(from),
		To:         rmodels.Millis(now),
	}
	lim := 50000
	asc := rmodels.Asc
	adj := true
	params.Limit = &lim
	params.Order = &asc
	params.Adjusted = &adj

	iter := p.rest.ListAggs(ctx, params)
	closes := make([]Close, 0, 64)
	for iter.Next() {
		a := iter.Item()
		if a.Close <= 0 {
			continue
		}
		closes = append(closes, Close{
			Date:  time.Time(a.Timestamp).UTC(),
			Price: decimal.NewFromFloat(a.Close),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(p.Name(), symbol, err)
	}
	if len(closes) == 0 {
		return nil, unavailable(p.Name(), symbol, ErrNoPrice)
	}
	return closes, nil
}
