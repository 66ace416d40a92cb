package nepalidate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ad(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewYearAnchors(t *testing.T) {
	cases := map[string]Date{
		"2013-04-14": {2070, 1, 1},
		"2016-04-13": {2073, 1, 1},
		"2018-04-14": {2075, 1, 1},
		"2021-04-14": {2078, 1, 1},
		"2023-04-14": {2080, 1, 1},
		"2024-04-13": {2081, 1, 1},
		"2025-04-14": {2082, 1, 1},
	}
	for in, want := range cases {
		got, err := FromAD(ad(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)

		back, err := want.ToAD()
		require.NoError(t, err)
		assert.Equal(t, in, back.Format(time.DateOnly))
	}
}

func TestRoundTripEveryDay(t *testing.T) {
	start := ad("2013-04-14")
	for i := 0; i < 365*12; i += 7 {
		day := start.AddDate(0, 0, i)
		bs, err := FromAD(day)
		require.NoError(t, err)
		back, err := bs.ToAD()
		require.NoError(t, err)
		require.Equal(t, day, back, "bs %s", bs)
	}
}

func TestFromADIgnoresClock(t *testing.T) {
	kathmandu := time.FixedZone("NPT", 5*3600+45*60)
	late := time.Date(2023, time.April, 14, 23, 59, 0, 0, kathmandu)
	got, err := FromAD(late)
	require.NoError(t, err)
	assert.Equal(t, "2080-01-01", got.String())
}

func TestOutOfRange(t *testing.T) {
	_, err := FromAD(ad("2000-01-01"))
	assert.True(t, errors.Is(err, ErrOutOfRange))

	_, err = Date{Year: 2200, Month: 1, Day: 1}.ToAD()
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestParse(t *testing.T) {
	d, err := Parse("2080/01/15")
	require.NoError(t, err)
	assert.Equal(t, Date{2080, 1, 15}, d)

	d, err = Parse(" 2081-12-31 ")
	require.NoError(t, err)
	assert.Equal(t, Date{2081, 12, 31}, d)

	for _, bad := range []string{"", "2080-01", "abcd-01-01", "2080-13-01", "2080-01-32", "2080-12-31"} {
		_, err := Parse(bad)
		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr), bad)
	}
}
