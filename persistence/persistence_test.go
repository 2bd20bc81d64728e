package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

func newTestStore(t *testing.T) (*ScheduleStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.db")
	store, err := NewScheduleStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func testRecord(accountID string) *models.ScheduleRecord {
	return &models.ScheduleRecord{
		AccountID: accountID,
		Message:   "Hello",
		FireAt:    time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		Timezone:  "Asia/Kolkata",
		Repeat:    models.RepeatOnce,
		CreatedAt: time.Now(),
	}
}

func TestUpsertAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(testRecord("919876543210")))

	record, err := store.Get("919876543210")
	require.NoError(t, err)
	assert.Equal(t, "919876543210", record.AccountID)
	assert.Equal(t, "Hello", record.Message)
	assert.Equal(t, models.RepeatOnce, record.Repeat)
}

func TestUpsertReplacesByAccountID(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(testRecord("123")))

	replacement := testRecord("123")
	replacement.Message = "Nuovo messaggio"
	replacement.Repeat = models.RepeatDaily
	require.NoError(t, store.Upsert(replacement))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Nuovo messaggio", records[0].Message)
	assert.Equal(t, models.RepeatDaily, records[0].Repeat)
}

func TestRemove(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(testRecord("123")))
	require.NoError(t, store.Remove("123"))

	_, err := store.Get("123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMissingReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	assert.ErrorIs(t, store.Remove("000"), ErrNotFound)
}

func TestListEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMutationsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.db")

	store, err := NewScheduleStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(testRecord("111")))
	require.NoError(t, store.Upsert(testRecord("222")))
	require.NoError(t, store.Remove("111"))
	require.NoError(t, store.Close())

	// Riapertura: simula il riavvio del processo
	store, err = NewScheduleStore(path)
	require.NoError(t, err)
	defer store.Close()

	records := store.LoadOnStartup()
	require.Len(t, records, 1)
	assert.Equal(t, "222", records[0].AccountID)
}

func TestLoadOnStartupSkipsCorruptEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.db")

	store, err := NewScheduleStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(testRecord("333")))
	require.NoError(t, store.Close())

	// Corrompi una voce scrivendo byte non decodificabili
	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(schedulesBucket).Put([]byte("444"), []byte("{non-json"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err = NewScheduleStore(path)
	require.NoError(t, err)
	defer store.Close()

	// La voce corrotta viene scartata, quella valida sopravvive
	records := store.LoadOnStartup()
	require.Len(t, records, 1)
	assert.Equal(t, "333", records[0].AccountID)

	// E non viene riletta al prossimo avvio
	records = store.LoadOnStartup()
	require.Len(t, records, 1)
}
