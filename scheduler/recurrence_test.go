package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

func TestResolvePlanOnce(t *testing.T) {
	fireAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	plan, err := ResolvePlan(&models.ScheduleRecord{
		AccountID: "123",
		FireAt:    fireAt,
		Timezone:  "UTC",
		Repeat:    models.RepeatOnce,
	})
	require.NoError(t, err)

	assert.Equal(t, fireAt, plan.At)
	assert.False(t, plan.Elapsed(fireAt.Add(-time.Minute)))
	assert.True(t, plan.Elapsed(fireAt))
	assert.True(t, plan.Elapsed(fireAt.Add(time.Minute)))

	assert.Equal(t, fireAt, plan.Next(fireAt.Add(-time.Hour)))
	assert.True(t, plan.Next(fireAt).IsZero())
}

func TestResolvePlanDailyUsesRecordTimezone(t *testing.T) {
	// 09:00 ora di Kolkata (+05:30)
	fireAt, err := time.Parse(time.RFC3339, "2025-01-01T09:00:00+05:30")
	require.NoError(t, err)

	plan, err := ResolvePlan(&models.ScheduleRecord{
		AccountID: "919876543210",
		FireAt:    fireAt,
		Timezone:  "Asia/Kolkata",
		Repeat:    models.RepeatDaily,
	})
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=Asia/Kolkata 0 9 * * *", plan.CronSpec)

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// La data di fireAt è irrilevante: da un "dopo" arbitrario la prossima
	// occorrenza è il prossimo 09:00 locale
	next := plan.Next(time.Date(2025, 3, 10, 20, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, loc).Unix(), next.Unix())
}

func TestResolvePlanDailyFiresOncePerDay(t *testing.T) {
	fireAt, err := time.Parse(time.RFC3339, "2025-01-01T09:00:00+05:30")
	require.NoError(t, err)

	plan, err := ResolvePlan(&models.ScheduleRecord{
		AccountID: "919876543210",
		FireAt:    fireAt,
		Timezone:  "Asia/Kolkata",
		Repeat:    models.RepeatDaily,
	})
	require.NoError(t, err)

	loc, _ := time.LoadLocation("Asia/Kolkata")

	// N giorni simulati -> N occorrenze, una al giorno alle 09:00 locali
	after := fireAt
	for day := 2; day <= 6; day++ {
		next := plan.Next(after)
		assert.Equal(t, time.Date(2025, 1, day, 9, 0, 0, 0, loc).Unix(), next.Unix())
		after = next
	}
}

func TestResolvePlanDailyTimezoneConversion(t *testing.T) {
	// fireAt espresso in UTC ma con zona del record New York: conta l'ora
	// locale della zona del record, non quella del timestamp
	fireAt := time.Date(2025, 1, 1, 14, 30, 0, 0, time.UTC) // 09:30 a New York

	plan, err := ResolvePlan(&models.ScheduleRecord{
		AccountID: "15550001111",
		FireAt:    fireAt,
		Timezone:  "America/New_York",
		Repeat:    models.RepeatDaily,
	})
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=America/New_York 30 9 * * *", plan.CronSpec)
}

func TestResolvePlanRejectsUnknownTimezone(t *testing.T) {
	_, err := ResolvePlan(&models.ScheduleRecord{
		AccountID: "123",
		FireAt:    time.Now(),
		Timezone:  "Marte/Olympus_Mons",
		Repeat:    models.RepeatDaily,
	})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "timezone", valErr.Field)
}

func TestResolvePlanRejectsUnknownRepeat(t *testing.T) {
	_, err := ResolvePlan(&models.ScheduleRecord{
		AccountID: "123",
		FireAt:    time.Now(),
		Timezone:  "UTC",
		Repeat:    models.Repeat("weekly"),
	})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "repeat", valErr.Field)
}
