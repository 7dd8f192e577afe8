package punctuality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/model"
)

var wib = time.FixedZone("WIB", 7*60*60)

func at(h, m, s int) time.Time {
	return time.Date(2024, 3, 4, h, m, s, 0, wib)
}

func TestCheckInCutoffIncludesTheMinute(t *testing.T) {
	hours := model.DefaultSettings().AttendanceHours

	label, err := Classify(at(8, 30, 0), model.DirectionIn, hours, wib)
	require.NoError(t, err)
	assert.Equal(t, OnTime, label)

	label, err = Classify(at(8, 30, 1), model.DirectionIn, hours, wib)
	require.NoError(t, err)
	assert.Equal(t, Late, label)
}

func TestCheckOut(t *testing.T) {
	hours := model.DefaultSettings().AttendanceHours

	label, err := Classify(at(15, 0, 0), model.DirectionOut, hours, wib)
	require.NoError(t, err)
	assert.Equal(t, OnTime, label)

	label, err = Classify(at(14, 59, 59), model.DirectionOut, hours, wib)
	require.NoError(t, err)
	assert.Equal(t, EarlyLeave, label)
}

func TestClassifyConvertsIntoConfiguredZone(t *testing.T) {
	hours := model.DefaultSettings().AttendanceHours
	utc := time.Date(2024, 3, 4, 1, 45, 0, 0, time.UTC) // 08:45 WIB

	label, err := Classify(utc, model.DirectionIn, hours, wib)
	require.NoError(t, err)
	assert.Equal(t, Late, label)

	// without a zone the UTC wall clock is used as is
	label, err = Classify(utc, model.DirectionIn, hours, nil)
	require.NoError(t, err)
	assert.Equal(t, OnTime, label)
}

func TestClassifyRejectsBadInput(t *testing.T) {
	_, err := Classify(at(8, 0, 0), model.DirectionIn, model.AttendanceHours{EndIn: "8.30"}, wib)
	assert.Error(t, err)

	_, err = Classify(at(8, 0, 0), model.Direction("sideways"), model.DefaultSettings().AttendanceHours, wib)
	assert.Error(t, err)
}

func TestValidateHours(t *testing.T) {
	require.NoError(t, ValidateHours(model.DefaultSettings().AttendanceHours))

	bad := model.DefaultSettings().AttendanceHours
	bad.EndIn = "06:00"
	assert.Error(t, ValidateHours(bad))

	bad = model.DefaultSettings().AttendanceHours
	bad.StartOut = "25:00"
	assert.Error(t, ValidateHours(bad))
}
