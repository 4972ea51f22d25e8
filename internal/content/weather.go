package content

import (
	"context"
	"encoding/json"
	"net/url"
)

// WeatherClient fetches current conditions from an OpenWeatherMap compatible service.
type WeatherClient struct {
	up *upstream
}

func NewWeatherClient(opts Options) (*WeatherClient, error) {
	up, err := newUpstream("weather", opts)
	if err != nil {
		return nil, err
	}
	return &WeatherClient{up: up}, nil
}

// Current returns the upstream current weather document for location, in metric units.
func (c *WeatherClient) Current(ctx context.Context, location string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.up.apiKey)
	q.Set("units", "metric")
	return c.up.get(ctx, "/weather", q)
}

type weatherMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
}

type weatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type weatherWind struct {
	Speed float64 `json:"speed"`
}

// FallbackWeather is served when the weather upstream cannot answer.
func FallbackWeather(location string) json.RawMessage {
	doc := struct {
		Name    string             `json:"name"`
		Main    weatherMain        `json:"main"`
		Weather []weatherCondition `json:"weather"`
		Wind    weatherWind        `json:"wind"`
	}{
		Name:    location,
		Main:    weatherMain{Temp: 22, FeelsLike: 24, Humidity: 65},
		Weather: []weatherCondition{{Main: "Clear", Description: "clear sky", Icon: "01d"}},
		Wind:    weatherWind{Speed: 3.2},
	}
	return mustMarshal(doc)
}
