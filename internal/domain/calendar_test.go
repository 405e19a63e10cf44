package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekday(t *testing.T) {
	w, err := ParseWeekday(" Thursday ")
	require.NoError(t, err)
	assert.Equal(t, Thursday, w)

	d, ok := w.Time()
	require.True(t, ok)
	assert.Equal(t, time.Thursday, d)

	_, err = ParseWeekday("thursdays")
	assert.Error(t, err)
}

func TestWeekdayOf_RoundTrip(t *testing.T) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		got, ok := WeekdayOf(d).Time()
		require.True(t, ok, d.String())
		assert.Equal(t, d, got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d)
	assert.Equal(t, "2024-02-29", d.String())

	_, err = ParseDate("2023-02-29")
	assert.Error(t, err)
	_, err = ParseDate("02/03/2024")
	assert.Error(t, err)
}

func TestDate_Ordering(t *testing.T) {
	a := Date{Year: 2024, Month: time.January, Day: 31}
	b := Date{Year: 2024, Month: time.February, Day: 1}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.After(a))
	assert.False(t, a.Before(a))
	assert.False(t, a.After(a))
}

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{in: "09:00", want: ClockTime{Hour: 9}},
		{in: "23:59", want: ClockTime{Hour: 23, Minute: 59}},
		{in: "07:30:00", want: ClockTime{Hour: 7, Minute: 30}},
		{in: "07:30:15", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "9am", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClockTime_On(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got := ClockTime{Hour: 9}.On(Date{Year: 2024, Month: time.July, Day: 1}, loc)
	assert.Equal(t, time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC), got.UTC())

	got = ClockTime{Hour: 9}.On(Date{Year: 2024, Month: time.January, Day: 2}, loc)
	assert.Equal(t, time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC), got.UTC())
}
