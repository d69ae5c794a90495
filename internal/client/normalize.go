package client

import (
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
)

// maxDailyEntries is how many calendar days the daily summary keeps.
const maxDailyEntries = 5

// Provider payloads. Every field is optional; absent values stay nil.
type mainBlock struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	TempMin   *float64 `json:"temp_min"`
	TempMax   *float64 `json:"temp_max"`
	Humidity  *float64 `json:"humidity"`
}

type weatherEntry struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type currentResponse struct {
	Main    *mainBlock     `json:"main"`
	Weather []weatherEntry `json:"weather"`
}

type forecastEntry struct {
	Dt      *int64         `json:"dt"`
	Main    *mainBlock     `json:"main"`
	Weather []weatherEntry `json:"weather"`
}

type forecastResponse struct {
	List []forecastEntry `json:"list"`
}

func normalize(current currentResponse, forecast forecastResponse, fetchedAt time.Time) models.Forecast {
	return models.Forecast{
		Current:   normalizeCurrent(current),
		Today:     normalizeToday(current),
		Daily:     normalizeDaily(forecast.List),
		FetchedAt: fetchedAt,
	}
}

func normalizeCurrent(r currentResponse) models.CurrentConditions {
	cc := models.CurrentConditions{Condition: firstCondition(r.Weather)}
	if r.Main != nil {
		cc.TempC = r.Main.Temp
		cc.FeelsLikeC = r.Main.FeelsLike
		if r.Main.Humidity != nil {
			h := int(math.Round(*r.Main.Humidity))
			cc.Humidity = &h
		}
	}
	return cc
}

func normalizeToday(r currentResponse) models.TemperatureRange {
	if r.Main == nil {
		return models.TemperatureRange{}
	}
	return models.TemperatureRange{TempMinC: r.Main.TempMin, TempMaxC: r.Main.TempMax}
}

// normalizeDaily groups 3-hour entries by UTC calendar date, in dt order, and keeps
// the first maxDailyEntries dates.
func normalizeDaily(list []forecastEntry) []models.DailyForecast {
	entries := make([]forecastEntry, 0, len(list))
	for _, e := range list {
		if e.Dt != nil {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return *entries[i].Dt < *entries[j].Dt })

	daily := make([]models.DailyForecast, 0, maxDailyEntries)
	for _, e := range entries {
		date := time.Unix(*e.Dt, 0).UTC().Format(time.DateOnly)

		if n := len(daily); n == 0 || daily[n-1].Date != date {
			if n == maxDailyEntries {
				break
			}
			daily = append(daily, models.DailyForecast{Date: date, Condition: firstCondition(e.Weather)})
		}

		day := &daily[len(daily)-1]
		if e.Main == nil {
			continue
		}
		day.TempMinC = minPtr(day.TempMinC, e.Main.TempMin)
		day.TempMaxC = maxPtr(day.TempMaxC, e.Main.TempMax)
	}
	return daily
}

func firstCondition(entries []weatherEntry) *models.Condition {
	if len(entries) == 0 {
		return nil
	}
	w := entries[0]
	return &models.Condition{Main: w.Main, Description: w.Description, Icon: w.Icon}
}

func minPtr(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil || *v < *acc {
		x := *v
		return &x
	}
	return acc
}

func maxPtr(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil || *v > *acc {
		x := *v
		return &x
	}
	return acc
}
