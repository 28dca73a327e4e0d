package domain

import "strings"

// ShippingZone identifies the destination band used for shipping rates.
type ShippingZone string

const (
	ShippingZoneNear   ShippingZone = "near"
	ShippingZoneFar    ShippingZone = "far"
	ShippingZonePickup ShippingZone = "pickup"
)

const (
	DefaultNearZoneRate    int64 = 50000
	DefaultFarZoneRate     int64 = 80000
	DefaultSurchargePerKg  int64 = 10000
	DefaultBaseWeightGrams       = 1000
	gramsPerKilogram             = 1000
)

// ParseShippingZone normalises user input. Unknown values are returned as-is so the
// calculator can apply its fallback policy.
func ParseShippingZone(raw string) ShippingZone {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "near-zone", "near_zone":
		return ShippingZoneNear
	case "far-zone", "far_zone":
		return ShippingZoneFar
	}
	return ShippingZone(value)
}

// ShippingRates holds the per-zone tariff.
type ShippingRates struct {
	NearZone        int64
	FarZone         int64
	SurchargePerKg  int64
	BaseWeightGrams int
}

// DefaultShippingRates returns the standard tariff.
func DefaultShippingRates() ShippingRates {
	return ShippingRates{
		NearZone:        DefaultNearZoneRate,
		FarZone:         DefaultFarZoneRate,
		SurchargePerKg:  DefaultSurchargePerKg,
		BaseWeightGrams: DefaultBaseWeightGrams,
	}
}

// Cost computes the shipping charge for the zone and total weight. Pickup is free.
// Unknown zones are charged at the most expensive zone rate.
func (r ShippingRates) Cost(zone ShippingZone, weightGrams int) int64 {
	var base int64
	switch zone {
	case ShippingZonePickup:
		return 0
	case ShippingZoneNear:
		base = r.NearZone
	case ShippingZoneFar:
		base = r.FarZone
	default:
		base = max(r.NearZone, r.FarZone)
	}

	threshold := r.BaseWeightGrams
	if threshold <= 0 {
		threshold = DefaultBaseWeightGrams
	}
	if weightGrams <= threshold {
		return base
	}

	extra := weightGrams - threshold
	extraKg := (extra + gramsPerKilogram - 1) / gramsPerKilogram
	return base + int64(extraKg)*r.SurchargePerKg
}
