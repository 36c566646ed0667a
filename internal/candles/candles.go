// Package candles implements the candle-data interface (§6) against
// Binance spot klines: BTC -> BTCUSDT, ETH -> ETHUSDT, default
// <ASSET>USDT. Binance is a convenient, liquid, free public source of
// the underlying spot price the TA engine consumes — a different venue
// from the prediction market itself.
package candles

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"martin/internal/apperr"
	"martin/internal/ta"
)

// Interval is a Binance kline interval string.
type Interval string

const (
	Interval1m Interval = "1m"
	Interval5m Interval = "5m"
)

const pageLimit = 1000

// Client fetches 1m/5m candle series from Binance spot klines.
type Client struct {
	api *binance.Client
}

// New constructs a Client. Public kline endpoints need no credentials;
// apiKey/secretKey may be empty for read-only use.
func New(apiKey, secretKey string) *Client {
	return &Client{api: binance.NewClient(apiKey, secretKey)}
}

func symbolFor(asset string) string {
	switch asset {
	case "BTC":
		return "BTCUSDT"
	case "ETH":
		return "ETHUSDT"
	default:
		return asset + "USDT"
	}
}

// Fetch1m returns the 1-minute candle series across [start, end) seconds.
func (c *Client) Fetch1m(ctx context.Context, asset string, start, end int64) ([]ta.Candle, error) {
	return c.fetch(ctx, asset, Interval1m, start, end)
}

// Fetch5m returns the 5-minute candle series across [start, end) seconds.
func (c *Client) Fetch5m(ctx context.Context, asset string, start, end int64) ([]ta.Candle, error) {
	return c.fetch(ctx, asset, Interval5m, start, end)
}

// fetch paginates per 1000 candles and dedups across pages by open time,
// per §6. Binance takes/returns milliseconds; callers and the returned
// candles use seconds.
func (c *Client) fetch(ctx context.Context, asset string, interval Interval, startSec, endSec int64) ([]ta.Candle, error) {
	symbol := symbolFor(asset)
	startMs := startSec * 1000
	endMs := endSec * 1000

	seen := make(map[int64]bool)
	var out []ta.Candle

	for {
		klines, err := c.api.NewKlinesService().
			Symbol(symbol).
			Interval(string(interval)).
			StartTime(startMs).
			EndTime(endMs).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return nil, apperr.API(fmt.Sprintf("fetch %s %s klines", symbol, interval), 0, "", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			openSec := k.OpenTime / 1000
			if seen[openSec] {
				continue
			}
			seen[openSec] = true
			candle, err := normalizeKline(k)
			if err != nil {
				return nil, apperr.API("normalize kline", 0, "", err)
			}
			out = append(out, candle)
		}

		last := klines[len(klines)-1]
		if len(klines) < pageLimit || last.CloseTime/1000 >= endSec {
			break
		}
		startMs = last.CloseTime + 1
	}

	return out, nil
}

func normalizeKline(k *binance.Kline) (ta.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return ta.Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return ta.Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return ta.Candle{}, err
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return ta.Candle{}, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		volume = 0
	}
	return ta.Candle{
		OpenTime:  k.OpenTime / 1000,
		CloseTime: k.CloseTime / 1000,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
