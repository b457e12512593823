package trips

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRecordFullRecord(t *testing.T) {
	rec := RawRecord{
		"trip_id":                    "abc123",
		"trip_start_timestamp":       "2024-05-01T14:30:00.000",
		"trip_end_timestamp":         "2024-05-01T15:00:00.000",
		"trip_seconds":               "1800",
		"trip_miles":                 "10.0",
		"pickup_community_area":      "8",
		"dropoff_community_area":     "32",
		"payment_type":               "Credit Card",
		"company":                    "Flash Cab",
		"fare":                       "25.50",
		"tips":                       "5.00",
		"tolls":                      "0",
		"extras":                     "1.00",
		"trip_total":                 "31.50",
		"pickup_centroid_latitude":   "41.899602111",
		"pickup_centroid_longitude":  "-87.633308037",
		"dropoff_centroid_latitude":  "41.877406123",
		"dropoff_centroid_longitude": "-87.621971652",
	}

	row := NormalizeRecord(rec)
	require.NotNil(t, row)

	require.NotNil(t, row.TripID)
	assert.Equal(t, "abc123", *row.TripID)

	require.NotNil(t, row.TripStartTimestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC), *row.TripStartTimestamp)

	require.NotNil(t, row.TripSeconds)
	assert.Equal(t, int64(1800), *row.TripSeconds)

	require.NotNil(t, row.TripMiles)
	assert.InDelta(t, 10.0, *row.TripMiles, 1e-9)

	require.NotNil(t, row.PickupCommunityArea)
	assert.Equal(t, int64(8), *row.PickupCommunityArea)

	require.NotNil(t, row.PaymentType)
	assert.Equal(t, "Credit Card", *row.PaymentType)

	require.NotNil(t, row.TripTotal)
	assert.InDelta(t, 31.50, *row.TripTotal, 1e-9)

	require.NotNil(t, row.DropoffCentroidLongitude)
	assert.InDelta(t, -87.621971652, *row.DropoffCentroidLongitude, 1e-9)
}

func TestNormalizeRecordEmptyRecord(t *testing.T) {
	row := NormalizeRecord(RawRecord{})
	require.NotNil(t, row)

	assert.Nil(t, row.TripID)
	assert.Nil(t, row.TripStartTimestamp)
	assert.Nil(t, row.TripEndTimestamp)
	assert.Nil(t, row.TripSeconds)
	assert.Nil(t, row.TripMiles)
	assert.Nil(t, row.PaymentType)
	assert.Nil(t, row.Company)
	assert.Nil(t, row.Fare)
	assert.Nil(t, row.TripTotal)
}

func TestNormalizeRecordMalformedValuesBecomeNil(t *testing.T) {
	rec := RawRecord{
		"trip_id":              "t-1",
		"trip_start_timestamp": "not a timestamp",
		"trip_seconds":         "12.5",
		"trip_miles":           "NaN-ish garbage",
		"payment_type":         "   ",
		"fare":                 true,
		"pickup_community_area": map[string]any{
			"nested": "object",
		},
	}

	row := NormalizeRecord(rec)
	require.NotNil(t, row)

	require.NotNil(t, row.TripID)
	assert.Equal(t, "t-1", *row.TripID)

	assert.Nil(t, row.TripStartTimestamp)
	assert.Nil(t, row.TripSeconds)
	assert.Nil(t, row.TripMiles)
	assert.Nil(t, row.PaymentType)
	assert.Nil(t, row.Fare)
	assert.Nil(t, row.PickupCommunityArea)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  *time.Time
	}{
		{
			name:  "socrata floating timestamp",
			input: "2024-05-01T14:30:00.000",
			want:  timePtr(time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)),
		},
		{
			name:  "seconds precision",
			input: "2024-05-01T14:30:00",
			want:  timePtr(time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)),
		},
		{
			name:  "space separated",
			input: "2024-05-01 14:30:00",
			want:  timePtr(time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)),
		},
		{
			name:  "rfc3339 with zone normalizes to utc",
			input: "2024-05-01T14:30:00-05:00",
			want:  timePtr(time.Date(2024, 5, 1, 19, 30, 0, 0, time.UTC)),
		},
		{
			name:  "leading and trailing whitespace",
			input: "  2024-05-01T14:30:00  ",
			want:  timePtr(time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)),
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "garbage",
			input: "yesterday",
			want:  nil,
		},
		{
			name:  "non-string value",
			input: 1714573800.0,
			want:  nil,
		},
		{
			name:  "nil value",
			input: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.input)

			if tt.want == nil {
				assert.Nil(t, got)

				return
			}

			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "want %v, got %v", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNormalizeInt(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  *int64
	}{
		{name: "integer string", input: "42", want: int64Ptr(42)},
		{name: "negative integer string", input: "-7", want: int64Ptr(-7)},
		{name: "float string with zero fraction", input: "23.0", want: int64Ptr(23)},
		{name: "float string with fraction", input: "23.5", want: nil},
		{name: "json number", input: float64(17), want: int64Ptr(17)},
		{name: "json number with fraction", input: 17.3, want: nil},
		{name: "go int", input: 9, want: int64Ptr(9)},
		{name: "go int64", input: int64(10), want: int64Ptr(10)},
		{name: "empty string", input: "", want: nil},
		{name: "whitespace string", input: "   ", want: nil},
		{name: "non-numeric string", input: "eight", want: nil},
		{name: "bool", input: true, want: nil},
		{name: "nil", input: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeInt(tt.input)

			if tt.want == nil {
				assert.Nil(t, got)

				return
			}

			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestNormalizeDecimal(t *testing.T) {
	nan := "NaN"

	tests := []struct {
		name  string
		input any
		want  *float64
	}{
		{name: "decimal string", input: "12.75", want: float64Ptr(12.75)},
		{name: "integer string", input: "12", want: float64Ptr(12)},
		{name: "json number", input: 3.25, want: float64Ptr(3.25)},
		{name: "go int", input: 4, want: float64Ptr(4)},
		{name: "empty string", input: "", want: nil},
		{name: "non-numeric string", input: "cheap", want: nil},
		{name: "nil", input: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeDecimal(tt.input)

			if tt.want == nil {
				assert.Nil(t, got)

				return
			}

			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}

	// strconv accepts "NaN"; the result must still normalize to nil so the
	// staging layer never sees a non-finite decimal.
	t.Run("nan string", func(t *testing.T) {
		got := normalizeDecimal(nan)
		assert.Nil(t, got)
	})
}

func TestNormalizeString(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  *string
	}{
		{name: "plain string", input: "Flash Cab", want: strPtr("Flash Cab")},
		{name: "trimmed", input: "  Flash Cab  ", want: strPtr("Flash Cab")},
		{name: "empty", input: "", want: nil},
		{name: "whitespace only", input: "\t \n", want: nil},
		{name: "non-string", input: 12, want: nil},
		{name: "nil", input: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeString(tt.input)

			if tt.want == nil {
				assert.Nil(t, got)

				return
			}

			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func int64Ptr(i int64) *int64 { return &i }

func float64Ptr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }
