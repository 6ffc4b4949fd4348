package projector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"qms/registrar-queue/internal/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	statuses []models.QueueStatus
	err      error
	calls    int
	onRead   func()
}

func (s *stubSource) GetQueueStatus(ctx context.Context) ([]models.QueueStatus, error) {
	s.calls++
	statuses := s.statuses
	if s.onRead != nil {
		s.onRead()
	}
	return statuses, s.err
}

func sampleStatuses() []models.QueueStatus {
	return []models.QueueStatus{
		{
			QueueType:          models.ServiceStandard,
			CurrentBatchNumber: "S-241117-004",
			CurrentTimeWindow:  "08:30-09:00",
			LastUpdated:        time.Date(2024, 11, 17, 1, 2, 3, 0, time.UTC),
		},
		{QueueType: models.ServiceExpress},
	}
}

func encoded(t *testing.T, statuses []models.QueueStatus) string {
	t.Helper()
	body, err := json.Marshal(statuses)
	require.NoError(t, err)
	return string(body)
}

func TestStatusCacheHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	source := &stubSource{}
	projector := New(db, source, time.Minute, nil)

	mock.ExpectGet(VersionKey).SetVal("3")
	mock.ExpectGet(EntryKey("3")).SetVal(encoded(t, sampleStatuses()))

	statuses, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStatuses(), statuses)
	assert.Zero(t, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCacheMissFillsCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	source := &stubSource{statuses: sampleStatuses()}
	projector := New(db, source, 10*time.Second, nil)

	mock.ExpectGet(VersionKey).RedisNil()
	mock.ExpectGet(EntryKey("0")).RedisNil()
	mock.ExpectSet(EntryKey("0"), encoded(t, sampleStatuses()), 10*time.Second).SetVal("OK")

	statuses, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStatuses(), statuses)
	assert.Equal(t, 1, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusReadRacingPublishIsNotServed(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	stale := sampleStatuses()
	fresh := sampleStatuses()
	fresh[0].CurrentBatchNumber = "S-241117-005"

	source := &stubSource{statuses: stale}
	projector := New(db, source, 10*time.Second, nil)

	// A call-next commits and publishes while the first reader is between
	// its source read and its cache write.
	source.onRead = func() {
		source.onRead = nil
		source.statuses = fresh
		require.NoError(t, projector.Publish(context.Background(), models.ServiceStandard))
	}

	mock.ExpectGet(VersionKey).SetVal("3")
	mock.ExpectGet(EntryKey("3")).RedisNil()
	mock.ExpectIncr(VersionKey).SetVal(4)
	mock.ExpectPublish(ChangeChannel, "standard").SetVal(1)
	mock.ExpectSet(EntryKey("3"), encoded(t, stale), 10*time.Second).SetVal("OK")

	mock.ExpectGet(VersionKey).SetVal("4")
	mock.ExpectGet(EntryKey("4")).RedisNil()
	mock.ExpectSet(EntryKey("4"), encoded(t, fresh), 10*time.Second).SetVal("OK")

	first, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stale, first)

	second, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, second)
	assert.Equal(t, 2, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusFallsBackWhenRedisFails(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	source := &stubSource{statuses: sampleStatuses()}
	projector := New(db, source, 0, nil)

	mock.ExpectGet(VersionKey).SetErr(errors.New("connection refused"))

	statuses, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStatuses(), statuses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusFallsBackWhenEntryReadFails(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	source := &stubSource{statuses: sampleStatuses()}
	projector := New(db, source, 0, nil)

	mock.ExpectGet(VersionKey).SetVal("1")
	mock.ExpectGet(EntryKey("1")).SetErr(errors.New("connection reset"))

	statuses, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStatuses(), statuses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusSourceError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	source := &stubSource{err: errors.New("db down")}
	projector := New(db, source, 0, nil)

	mock.ExpectGet(VersionKey).SetVal("2")
	mock.ExpectGet(EntryKey("2")).RedisNil()

	_, err := projector.Status(context.Background())
	assert.EqualError(t, err, "db down")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBumpsVersionAndNotifies(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	projector := New(db, &stubSource{}, 0, nil)

	mock.ExpectIncr(VersionKey).SetVal(1)
	mock.ExpectPublish(ChangeChannel, "express").SetVal(0)

	require.NoError(t, projector.Publish(context.Background(), models.ServiceExpress))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishReportsRedisFailure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	projector := New(db, &stubSource{}, 0, nil)

	mock.ExpectIncr(VersionKey).SetErr(errors.New("timeout"))

	assert.Error(t, projector.Publish(context.Background(), models.ServiceStandard))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithoutRedis(t *testing.T) {
	source := &stubSource{statuses: sampleStatuses()}
	projector := New(nil, source, 0, nil)

	statuses, err := projector.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStatuses(), statuses)
	assert.NoError(t, projector.Publish(context.Background(), models.ServiceStandard))
}
