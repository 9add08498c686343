// Package delivery runs home-delivery orders through their status machine
// and prices them from the zone fee schedule.
package delivery

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/money"
)

// OnTimeTolerance is how far from the estimate a delivery may land and still
// count as on time.
const OnTimeTolerance = 15 * time.Minute

var hundred = decimal.NewFromInt(100)

var next = map[domain.DeliveryStatus]domain.DeliveryStatus{
	domain.DeliveryPending:        domain.DeliveryConfirmed,
	domain.DeliveryConfirmed:      domain.DeliveryPreparing,
	domain.DeliveryPreparing:      domain.DeliveryOutForDelivery,
	domain.DeliveryOutForDelivery: domain.DeliveryDelivered,
}

func IsTerminal(s domain.DeliveryStatus) bool {
	return s == domain.DeliveryDelivered || s == domain.DeliveryCancelled
}

// CanAdvance reports whether from -> to is a legal step.
func CanAdvance(from, to domain.DeliveryStatus) bool {
	if IsTerminal(from) {
		return false
	}
	if to == domain.DeliveryCancelled {
		return true
	}
	return next[from] == to
}

// Advance moves o to status and records a tracking note. o is not modified.
func Advance(o domain.DeliveryOrder, status domain.DeliveryStatus, now time.Time, note string, userID *string) (domain.DeliveryOrder, error) {
	if !CanAdvance(o.Status, status) {
		return o, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, o.Status, status)
	}

	out := o
	out.TrackingNotes = append(append([]domain.TrackingNote(nil), o.TrackingNotes...), domain.TrackingNote{
		Timestamp: now,
		Note:      trackingText(status, note),
		UserID:    userID,
	})
	out.Status = status
	out.UpdatedAt = now
	if status == domain.DeliveryDelivered {
		t := now
		out.ActualDeliveryTime = &t
		if userID != nil {
			out.DeliveredBy = userID
		}
	}
	return out, nil
}

func trackingText(status domain.DeliveryStatus, note string) string {
	if note != "" {
		return note
	}
	return "status changed to " + string(status)
}

// Commission is the courier's share of the delivery fee.
func Commission(o domain.DeliveryOrder) money.Pair {
	return money.NewPair(o.DeliveryFeeUSD, o.DeliveryFeeLocal).Mul(o.CommissionPercent).Div(hundred).Round()
}

// QuoteFee prices a delivery of distanceKm within zone.
func QuoteFee(zone domain.DeliveryZone, distanceKm decimal.Decimal) money.Pair {
	if distanceKm.IsNegative() {
		distanceKm = decimal.Zero
	}
	base := money.NewPair(zone.BaseFeeUSD, zone.BaseFeeLocal)
	perKm := money.NewPair(zone.FeePerKmUSD, zone.FeePerKmLocal)
	return base.Add(perKm.Mul(distanceKm)).Round()
}

func EstimateDeliveryTime(zone domain.DeliveryZone, now time.Time) time.Time {
	minutes := zone.EstimatedTimeMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}

// OnTimeRate is the share of delivered orders that arrived within
// OnTimeTolerance of their estimate, early or late. It is zero when nothing
// has been delivered.
func OnTimeRate(orders []domain.DeliveryOrder) float64 {
	delivered, onTime := 0, 0
	for _, o := range orders {
		if o.Status != domain.DeliveryDelivered || o.ActualDeliveryTime == nil {
			continue
		}
		delivered++
		diff := o.ActualDeliveryTime.Sub(o.EstimatedDeliveryTime)
		if diff < 0 {
			diff = -diff
		}
		if diff <= OnTimeTolerance {
			onTime++
		}
	}
	if delivered == 0 {
		return 0
	}
	return float64(onTime) / float64(delivered)
}
