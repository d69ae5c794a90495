package models

import "time"

// Condition summarizes the weather for a point in time.
type Condition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// CurrentConditions holds the current observation. Every field is optional
// because the provider may omit any of them.
type CurrentConditions struct {
	TempC      *float64   `json:"tempC"`
	FeelsLikeC *float64   `json:"feelsLikeC"`
	Humidity   *int       `json:"humidity"`
	Condition  *Condition `json:"condition"`
}

// TemperatureRange is the min/max temperature for the current day.
type TemperatureRange struct {
	TempMinC *float64 `json:"tempMinC"`
	TempMaxC *float64 `json:"tempMaxC"`
}

// DailyForecast is one calendar day (UTC) of the multi-day forecast.
type DailyForecast struct {
	Date      string     `json:"date"` // YYYY-MM-DD
	TempMinC  *float64   `json:"tempMinC"`
	TempMaxC  *float64   `json:"tempMaxC"`
	Condition *Condition `json:"condition"`
}

// Forecast is the normalized weather summary cached per location.
// Treat it as immutable once built; use Clone before handing it to code that may modify it.
type Forecast struct {
	Current   CurrentConditions `json:"current"`
	Today     TemperatureRange  `json:"today"`
	Daily     []DailyForecast   `json:"daily"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

// LookupResult is what the lookup pipeline returns to its caller.
type LookupResult struct {
	Forecast     Forecast `json:"forecast"`
	FromCache    bool     `json:"fromCache"`
	LocationName string   `json:"location"`
	CacheKey     string   `json:"cacheKey"`
}

// Clone returns a deep copy of f sharing no pointers or slices with it.
func (f Forecast) Clone() Forecast {
	out := Forecast{
		Current: CurrentConditions{
			TempC:      cloneFloat(f.Current.TempC),
			FeelsLikeC: cloneFloat(f.Current.FeelsLikeC),
			Humidity:   cloneInt(f.Current.Humidity),
			Condition:  cloneCondition(f.Current.Condition),
		},
		Today: TemperatureRange{
			TempMinC: cloneFloat(f.Today.TempMinC),
			TempMaxC: cloneFloat(f.Today.TempMaxC),
		},
		FetchedAt: f.FetchedAt,
	}
	if f.Daily != nil {
		out.Daily = make([]DailyForecast, len(f.Daily))
		for i, d := range f.Daily {
			out.Daily[i] = DailyForecast{
				Date:      d.Date,
				TempMinC:  cloneFloat(d.TempMinC),
				TempMaxC:  cloneFloat(d.TempMaxC),
				Condition: cloneCondition(d.Condition),
			}
		}
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneCondition(p *Condition) *Condition {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
