package models

import (
	"testing"
	"time"
)

func TestForecast_Clone_NoSharedState(t *testing.T) {
	temp := 30.5
	humidity := 70
	min, max := 28.0, 34.0
	orig := Forecast{
		Current: CurrentConditions{
			TempC:     &temp,
			Humidity:  &humidity,
			Condition: &Condition{Main: "Clear", Description: "sunny", Icon: "01d"},
		},
		Today: TemperatureRange{TempMinC: &min, TempMaxC: &max},
		Daily: []DailyForecast{
			{Date: "2024-06-01", TempMinC: &min, TempMaxC: &max, Condition: &Condition{Main: "Clear"}},
		},
		FetchedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	c := orig.Clone()
	*c.Current.TempC = 0
	*c.Current.Humidity = 0
	c.Current.Condition.Main = "Rain"
	*c.Today.TempMinC = -1
	c.Daily[0].Date = "changed"
	c.Daily[0].Condition.Main = "Snow"

	if *orig.Current.TempC != 30.5 {
		t.Errorf("orig TempC = %v, want 30.5", *orig.Current.TempC)
	}
	if *orig.Current.Humidity != 70 {
		t.Errorf("orig Humidity = %v, want 70", *orig.Current.Humidity)
	}
	if orig.Current.Condition.Main != "Clear" {
		t.Errorf("orig condition = %q, want Clear", orig.Current.Condition.Main)
	}
	if *orig.Today.TempMinC != 28 {
		t.Errorf("orig TempMinC = %v, want 28", *orig.Today.TempMinC)
	}
	if orig.Daily[0].Date != "2024-06-01" || orig.Daily[0].Condition.Main != "Clear" {
		t.Errorf("orig Daily[0] = %+v, want unchanged", orig.Daily[0])
	}
	if !c.FetchedAt.Equal(orig.FetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", c.FetchedAt, orig.FetchedAt)
	}
}

func TestForecast_Clone_NilFields(t *testing.T) {
	c := Forecast{}.Clone()
	if c.Current.TempC != nil || c.Current.Condition != nil || c.Daily != nil {
		t.Errorf("Clone() of zero Forecast = %+v, want zero", c)
	}
}
