// Package statssource supplies real-valued Bitcoin network statistics
// samples from mempool.space's public REST API. Core components integrate
// only the typed Client.Sample / Client.SampleOutcome facade, keyed by
// EventType.
package statssource

import (
	"context"
	"fmt"
	"math"

	"github.com/go-resty/resty/v2"

	"github.com/btcoracle/ernest/pkg/oracleerr"
)

const defaultBaseURL = "https://mempool.space/api/v1"

// EventType identifies one of the four Bitcoin statistics this oracle can
// sample, serialized lowercase on the wire.
type EventType string

const (
	Hashrate             EventType = "hashrate"
	FeeRate              EventType = "feerate"
	BlockReward          EventType = "blockreward"
	DifficultyAdjustment EventType = "difficultyadjustment"
)

// ParseEventType validates and returns an EventType.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case Hashrate, FeeRate, BlockReward, DifficultyAdjustment:
		return EventType(s), nil
	default:
		return "", fmt.Errorf("statssource: unknown event type %q", s)
	}
}

// AvailableEventTypes lists every identifier the oracle can sample.
func AvailableEventTypes() []EventType {
	return []EventType{Hashrate, FeeRate, BlockReward, DifficultyAdjustment}
}

// timePeriod is a mempool.space URL time-window suffix.
type timePeriod string

const (
	threeMonths timePeriod = "3m"
	allTime     timePeriod = "all"
)

func (p timePeriod) suffix() string {
	if p == allTime {
		return ""
	}
	return string(p)
}

// hashrateResponse is mempool.space's /mining/hashrate[/period] response
// shape.
type hashrateResponse struct {
	CurrentHashrate float64 `json:"currentHashrate"`
}

type blockReward struct {
	AvgRewards float64 `json:"avgRewards"`
}

type blockFees struct {
	AvgFees float64 `json:"avgFees"`
}

// difficultyAdjustment arrives as a 4-element JSON array:
// [timestamp, height, difficulty, difficultyChange].
type difficultyAdjustment [4]float64

func (d difficultyAdjustment) difficulty() float64 {
	return d[2]
}

// Client samples Bitcoin network statistics from mempool.space.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient builds a Client against the public mempool.space API.
func NewClient() *Client {
	return &Client{http: resty.New(), baseURL: defaultBaseURL}
}

// NewClientWithBaseURL builds a Client against a custom base URL, used by
// tests to point at a local mock server.
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{http: resty.New(), baseURL: baseURL}
}

// Sample returns the real-valued measurement for t, ready to be fed to the
// ParlayEngine or ceiled into an integer outcome for a single event.
func (c *Client) Sample(ctx context.Context, t EventType) (float64, error) {
	switch t {
	case Hashrate:
		return c.hashrate(ctx, allTime)
	case FeeRate:
		return c.blockFees(ctx, threeMonths)
	case BlockReward:
		return c.blockRewards(ctx, threeMonths)
	case DifficultyAdjustment:
		return c.difficultyAdjustments(ctx, threeMonths)
	default:
		return 0, fmt.Errorf("statssource: unknown event type %q", t)
	}
}

// SampleOutcome returns ceil(Sample(t)) as the integer outcome a single
// numeric event is attested with.
func (c *Client) SampleOutcome(ctx context.Context, t EventType) (int64, error) {
	v, err := c.Sample(ctx, t)
	if err != nil {
		return 0, err
	}
	return int64(math.Ceil(v)), nil
}

func (c *Client) hashrate(ctx context.Context, period timePeriod) (float64, error) {
	url := c.baseURL + "/mining/hashrate"
	if s := period.suffix(); s != "" {
		url += "/" + s
	}
	var data hashrateResponse
	if err := c.get(ctx, url, &data); err != nil {
		return 0, err
	}
	terahashesPerSecond := math.Ceil(data.CurrentHashrate) / 1e12
	return terahashesPerSecond, nil
}

func (c *Client) blockRewards(ctx context.Context, period timePeriod) (float64, error) {
	var data []blockReward
	if err := c.get(ctx, c.baseURL+"/mining/blocks/rewards/"+period.suffix(), &data); err != nil {
		return 0, err
	}
	return average(data, func(r blockReward) float64 { return r.AvgRewards }), nil
}

func (c *Client) blockFees(ctx context.Context, period timePeriod) (float64, error) {
	var data []blockFees
	if err := c.get(ctx, c.baseURL+"/mining/blocks/fees/"+period.suffix(), &data); err != nil {
		return 0, err
	}
	return average(data, func(f blockFees) float64 { return f.AvgFees }), nil
}

func (c *Client) difficultyAdjustments(ctx context.Context, period timePeriod) (float64, error) {
	var data []difficultyAdjustment
	if err := c.get(ctx, c.baseURL+"/mining/difficulty-adjustments/"+period.suffix(), &data); err != nil {
		return 0, err
	}
	return average(data, difficultyAdjustment.difficulty), nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(url)
	if err != nil {
		return oracleerr.Wrap(oracleerr.StatsSource, fmt.Sprintf("GET %s", url), err)
	}
	if resp.IsError() {
		return oracleerr.New(oracleerr.StatsSource, fmt.Sprintf("GET %s: status %s", url, resp.Status()))
	}
	return nil
}

func average[T any](data []T, extractor func(T) float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var total float64
	for _, v := range data {
		total += extractor(v)
	}
	return total / float64(len(data))
}
