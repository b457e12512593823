package trips

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Source field names in the raw record mapping.
const (
	fieldTripID      = "trip_id"
	fieldTripStart   = "trip_start_timestamp"
	fieldTripEnd     = "trip_end_timestamp"
	fieldTripSeconds = "trip_seconds"
	fieldTripMiles   = "trip_miles"
	fieldPickupArea  = "pickup_community_area"
	fieldDropoffArea = "dropoff_community_area"
	fieldPaymentType = "payment_type"
	fieldCompany     = "company"
	fieldFare        = "fare"
	fieldTips        = "tips"
	fieldTolls       = "tolls"
	fieldExtras      = "extras"
	fieldTripTotal   = "trip_total"
	fieldPickupLat   = "pickup_centroid_latitude"
	fieldPickupLon   = "pickup_centroid_longitude"
	fieldDropoffLat  = "dropoff_centroid_latitude"
	fieldDropoffLon  = "dropoff_centroid_longitude"
)

// timestampLayouts are the ISO-8601 shapes the source emits. Socrata floating
// timestamps carry no zone; records exported through other tools sometimes do.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeRecord converts one raw source record into the canonical typed row.
//
// Normalization never fails: any expected field that is absent, of an
// unexpected type, or not coercible to its semantic type maps to nil rather
// than an error, so one malformed value cannot abort a batch.
func NormalizeRecord(rec RawRecord) *TripRow {
	return &TripRow{
		TripID:             normalizeString(rec[fieldTripID]),
		TripStartTimestamp: ParseTimestamp(rec[fieldTripStart]),
		TripEndTimestamp:   ParseTimestamp(rec[fieldTripEnd]),
		TripSeconds:        normalizeInt(rec[fieldTripSeconds]),
		TripMiles:          normalizeDecimal(rec[fieldTripMiles]),

		PickupCommunityArea:  normalizeInt(rec[fieldPickupArea]),
		DropoffCommunityArea: normalizeInt(rec[fieldDropoffArea]),

		PaymentType: normalizeString(rec[fieldPaymentType]),
		Company:     normalizeString(rec[fieldCompany]),

		Fare:      normalizeDecimal(rec[fieldFare]),
		Tips:      normalizeDecimal(rec[fieldTips]),
		Tolls:     normalizeDecimal(rec[fieldTolls]),
		Extras:    normalizeDecimal(rec[fieldExtras]),
		TripTotal: normalizeDecimal(rec[fieldTripTotal]),

		PickupCentroidLatitude:   normalizeDecimal(rec[fieldPickupLat]),
		PickupCentroidLongitude:  normalizeDecimal(rec[fieldPickupLon]),
		DropoffCentroidLatitude:  normalizeDecimal(rec[fieldDropoffLat]),
		DropoffCentroidLongitude: normalizeDecimal(rec[fieldDropoffLon]),
	}
}

// ParseTimestamp parses ISO-8601 text into a UTC timestamp.
// Non-string or unparseable values normalize to nil. Exported because the
// source adapter reuses it for the bootstrap max-aggregate response.
func ParseTimestamp(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()

			return &t
		}
	}

	return nil
}

// normalizeInt coerces a raw value to an integer. JSON numbers arrive as
// float64; Socrata numeric columns arrive as strings. Fractional values and
// anything else normalize to nil.
func normalizeInt(v any) *int64 {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}

		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &i
		}

		// Values like "23.0" still count as integers.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}

		return nil
	case float64:
		return floatToInt(val)
	case int:
		i := int64(val)

		return &i
	case int64:
		i := val

		return &i
	default:
		return nil
	}
}

// normalizeDecimal coerces a raw value to a decimal. Non-coercible values
// normalize to nil.
func normalizeDecimal(v any) *float64 {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}

		// ParseFloat accepts "NaN" and "Inf"; keep those out of staging.
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return &f
		}

		return nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}

		f := val

		return &f
	case int:
		f := float64(val)

		return &f
	case int64:
		f := float64(val)

		return &f
	default:
		return nil
	}
}

// normalizeString maps non-string and empty values to nil.
func normalizeString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	return &s
}

func floatToInt(f float64) *int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}

	i := int64(f)

	return &i
}
