package emulator

import (
	"math"
	"math/rand/v2"
	"time"
)

// Trip mirrors the columns of the yellow-cab trip dataset that the
// dashboards read.
type Trip struct {
	PickupDatetime  string  `json:"pickup_datetime" cbor:"pickup_datetime"`
	PassengerCount  int     `json:"passenger_count" cbor:"passenger_count"`
	TripDistance    float64 `json:"trip_distance" cbor:"trip_distance"`
	FareAmount      float64 `json:"fare_amount" cbor:"fare_amount"`
	TipAmount       float64 `json:"tip_amount" cbor:"tip_amount"`
	PaymentType     string  `json:"payment_type" cbor:"payment_type"`
	PickupLatitude  float64 `json:"pickup_latitude" cbor:"pickup_latitude"`
	PickupLongitude float64 `json:"pickup_longitude" cbor:"pickup_longitude"`
}

var payments = []string{"card", "cash", "card", "card", "no charge"}

func RandomTrip(at time.Time) Trip {
	dist := 0.5 + rand.ExpFloat64()*2.5
	fare := 3.0 + dist*2.5 + rand.Float64()*4
	return Trip{
		PickupDatetime:  at.UTC().Format(time.RFC3339),
		PassengerCount:  1 + rand.IntN(4),
		TripDistance:    round2(dist),
		FareAmount:      round2(fare),
		TipAmount:       round2(fare * 0.15 * rand.Float64()),
		PaymentType:     payments[rand.IntN(len(payments))],
		PickupLatitude:  40.70 + rand.Float64()*0.12,
		PickupLongitude: -74.02 + rand.Float64()*0.10,
	}
}

// Analytics is the aggregate sent as analytics_data.
type Analytics struct {
	TotalTrips  int     `json:"total_trips" cbor:"total_trips"`
	AvgFare     float64 `json:"avg_fare" cbor:"avg_fare"`
	AvgDistance float64 `json:"avg_distance" cbor:"avg_distance"`
}

// Summarize aggregates trips into an analytics snapshot.
func Summarize(trips []Trip) Analytics {
	r := Analytics{TotalTrips: len(trips)}
	if len(trips) == 0 {
		return r
	}
	var fare, dist float64
	for _, t := range trips {
		fare += t.FareAmount
		dist += t.TripDistance
	}
	r.AvgFare = round2(fare / float64(len(trips)))
	r.AvgDistance = round2(dist / float64(len(trips)))
	return r
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
