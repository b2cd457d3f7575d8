package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hyperlocal/internal/types"
)

// WeatherClientConfig configures the OpenWeatherMap forecast client.
type WeatherClientConfig struct {
	APIKey  types.SecretString
	BaseURL string
	Timeout time.Duration
}

// WeatherClient fetches the 5 day / 3 hour forecast for a coordinate pair and
// converts it to hourly forecast samples.
type WeatherClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
}

// NewWeatherClient creates a WeatherClient.
func NewWeatherClient(cfg WeatherClientConfig, opts ...BaseClientOption) *WeatherClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WeatherClient{
		base:    NewBaseClient(&http.Client{Timeout: timeout}, "openweathermap", DefaultRetryPolicy(), "hyperlocal-feed/1.0", opts...),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Provider names the upstream, used as a metric label.
func (c *WeatherClient) Provider() string { return "openweathermap" }

// owmForecast is the subset of the /forecast response we consume.
type owmForecast struct {
	List []owmEntry `json:"list"`
}

type owmEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain *struct {
		ThreeHour float64 `json:"3h"`
	} `json:"rain"`
}

// owmStepHours is the native resolution of the forecast product.
const owmStepHours = 3

// GetForecast returns hourly samples for the coordinates, ascending by time.
// Each 3-hour entry expands into three hourly samples; its accumulated
// rainfall is spread evenly as a mm/h rate. Samples carry no location id.
func (c *WeatherClient) GetForecast(ctx context.Context, lat, lon float64) ([]types.ForecastSample, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("units", "metric")
	q.Set("appid", c.apiKey.Unmask())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build forecast request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamForecast,
			fmt.Sprintf("forecast provider returned %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": string(body)})
	}

	var payload owmForecast
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast, "failed to decode forecast response", err)
	}

	samples := make([]types.ForecastSample, 0, len(payload.List)*owmStepHours)
	for _, e := range payload.List {
		start := time.Unix(e.Dt, 0).UTC()
		rate := 0.0
		if e.Rain != nil {
			rate = e.Rain.ThreeHour / owmStepHours
		}
		for h := 0; h < owmStepHours; h++ {
			samples = append(samples, types.ForecastSample{
				ForecastTime:   start.Add(time.Duration(h) * time.Hour),
				Temperature:    e.Main.Temp,
				RainfallAmount: rate,
				WindSpeed:      e.Wind.Speed,
			})
		}
	}
	return samples, nil
}
