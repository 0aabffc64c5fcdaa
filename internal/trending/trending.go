// Package trending recomputes an event's trending and interest scores when
// confirmed sales move its numbers.
package trending

import (
	"math"
	"time"
)

type Input struct {
	SoldTickets  int
	TotalTickets int
	ViewCount    int64
	ReviewCount  int
	SalesStart   time.Time
	Now          time.Time
}

// Scores weighs sell-through, sales velocity, and view volume. Velocity is
// units per day since sales opened, never divided by less than one day.
func Scores(in Input) (trending, interest float64) {
	soldRatio := 0.0
	if in.TotalTickets > 0 {
		soldRatio = float64(in.SoldTickets) / float64(in.TotalTickets)
	}
	days := int(in.Now.Sub(in.SalesStart).Hours() / 24)
	if days < 1 {
		days = 1
	}
	velocity := float64(in.SoldTickets) / float64(days)

	trending = soldRatio*0.5 + velocity*0.3 + math.Log(float64(in.ViewCount)+1)*0.2
	trending = round4(trending)

	interest = trending*0.5 + float64(in.SoldTickets)*0.3 + float64(in.ReviewCount)*0.2
	return trending, round4(interest)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
