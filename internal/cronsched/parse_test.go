package cronsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RejectsWrongFieldCount(t *testing.T) {
	t.Parallel()

	_, err := Parse("* * * *")
	require.Error(t, err)
}

func TestParse_RejectsInvalidStep(t *testing.T) {
	t.Parallel()

	_, err := Parse("*/0 * * * *")
	require.Error(t, err)
}

func TestParse_RejectsDescendingRange(t *testing.T) {
	t.Parallel()

	_, err := Parse("0 10-5 * * *")
	require.Error(t, err)
}

func TestParse_AcceptsAliases(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 9 * jan,jul mon-fri")
	require.NoError(t, err)

	assert.True(t, sched.months[1])
	assert.True(t, sched.months[7])
	assert.False(t, sched.months[2])
	assert.True(t, sched.dows[1])
	assert.True(t, sched.dows[5])
	assert.False(t, sched.dows[6])
}

func TestParse_NormalizesSundaySeven(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 * * 7")
	require.NoError(t, err)

	assert.True(t, sched.dows[0])
	assert.False(t, sched.dows[7])
}

func TestParse_ClampsOutOfRangeLiterals(t *testing.T) {
	t.Parallel()

	sched, err := Parse("99 * * * *")
	require.NoError(t, err)

	assert.True(t, sched.minutes[59])
}

func TestDayMatches_BothWildcard(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 * * *")
	require.NoError(t, err)

	// Any day at all should match when both day fields are wildcards.
	assert.True(t, sched.dayMatches(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDayMatches_RestrictedDomOnly(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 15 * *")
	require.NoError(t, err)

	assert.True(t, sched.dayMatches(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, sched.dayMatches(time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)))
}

func TestDayMatches_RestrictedDowOnly(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 * * mon")
	require.NoError(t, err)

	// 2026-08-03 is a Monday.
	assert.True(t, sched.dayMatches(time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)))
	assert.False(t, sched.dayMatches(time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC)))
}

func TestDayMatches_BothRestrictedIsOR(t *testing.T) {
	t.Parallel()

	// Day 1 of month OR Monday — matches either, per the standard cron OR
	// day-matching rule (architecture.md §4.5).
	sched, err := Parse("0 0 1 * mon")
	require.NoError(t, err)

	assert.True(t, sched.dayMatches(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))) // Saturday, day 1
	assert.True(t, sched.dayMatches(time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC))) // Monday, day 3
	assert.False(t, sched.dayMatches(time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC)))
}

func TestNext_FindsNextMinute(t *testing.T) {
	t.Parallel()

	sched, err := Parse("* * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 8, 1, 10, 30, 15, 0, time.UTC)

	next, ok := sched.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 31, 0, 0, time.UTC), next)
}

func TestNext_SkipsToNextMatchingHour(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 9 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	next, ok := sched.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNext_NoOccurrenceWithinHorizon(t *testing.T) {
	t.Parallel()

	// Feb 30 never exists, so no occurrence can ever be found.
	sched, err := Parse("0 0 30 2 *")
	require.NoError(t, err)

	_, ok := sched.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}
