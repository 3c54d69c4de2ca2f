package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

func TestConverterFormat(t *testing.T) {
	t.Parallel()

	tz, err := NewConverter("Asia/Shanghai", "America/New_York")
	require.NoError(t, err)
	cst := tz.Source()

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "summer", in: time.Date(2024, 7, 1, 23, 30, 0, 0, cst), want: "2024-07-01 11:30"},
		{name: "date only", in: time.Date(2023, 5, 1, 0, 0, 0, 0, cst), want: "2023-04-30 12:00"},
		{name: "before spring forward", in: time.Date(2024, 3, 10, 14, 30, 0, 0, cst), want: "2024-03-10 01:30"},
		{name: "after spring forward", in: time.Date(2024, 3, 10, 15, 30, 0, 0, cst), want: "2024-03-10 03:30"},
		{name: "fall back first pass", in: time.Date(2024, 11, 3, 13, 30, 0, 0, cst), want: "2024-11-03 01:30"},
		{name: "fall back second pass", in: time.Date(2024, 11, 3, 14, 30, 0, 0, cst), want: "2024-11-03 01:30"},
		{name: "sentinel", in: crawler.SentinelTime, want: "0001-01-01 00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tz.Format(tt.in))
		})
	}
}

func TestConverterFallBackKeepsOffsets(t *testing.T) {
	t.Parallel()

	tz, err := NewConverter("Asia/Shanghai", "America/New_York")
	require.NoError(t, err)

	first := tz.ToReference(time.Date(2024, 11, 3, 13, 30, 0, 0, tz.Source()))
	second := tz.ToReference(time.Date(2024, 11, 3, 14, 30, 0, 0, tz.Source()))
	_, firstOffset := first.Zone()
	_, secondOffset := second.Zone()
	require.Equal(t, -4*3600, firstOffset)
	require.Equal(t, -5*3600, secondOffset)
	require.Equal(t, time.Hour, second.Sub(first))
}

func TestConverterRoundTrip(t *testing.T) {
	t.Parallel()

	tz, err := NewConverter("Asia/Shanghai", "America/New_York")
	require.NoError(t, err)

	in := time.Date(2024, 7, 1, 23, 30, 0, 0, tz.Source())
	stored, err := tz.ParseStored(tz.Format(in))
	require.NoError(t, err)
	require.True(t, in.Equal(stored))
	require.Equal(t, "2024-07-01 23:30", stored.In(tz.Source()).Format(crawler.RecordDateLayout))
}

func TestConverterParseStored(t *testing.T) {
	t.Parallel()

	tz, err := NewConverter("Asia/Shanghai", "America/New_York")
	require.NoError(t, err)

	withOffset, err := tz.ParseStored("2024-05-03T02:30:00Z")
	require.NoError(t, err)
	require.Equal(t, "2024-05-02 22:30", withOffset.Format(crawler.RecordDateLayout))

	bare, err := tz.ParseStored("2024-05-03")
	require.NoError(t, err)
	require.Equal(t, tz.Reference(), bare.Location())

	_, err = tz.ParseStored("yesterday")
	require.Error(t, err)
}

func TestNewConverterRejectsUnknownZone(t *testing.T) {
	t.Parallel()

	_, err := NewConverter("Mars/Olympus", "America/New_York")
	require.ErrorContains(t, err, "source zone")
	_, err = NewConverter("Asia/Shanghai", "Nowhere")
	require.ErrorContains(t, err, "reference zone")
}

func TestGuardCleansTitles(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	g.Add("  标题\r\n一 ")
	require.True(t, g.Seen("标题一"))
	require.False(t, g.Seen("标题二"))
	require.Equal(t, 1, g.Len())
}
