package breaks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSetsKeyWithTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := New(rdb)

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	endsAt := now.Add(15 * time.Minute)
	payload, err := json.Marshal(record{Message: "lunch", EndsAt: endsAt})
	require.NoError(t, err)

	mock.ExpectSet("break:barberia0001", payload, 15*time.Minute).SetVal("OK")

	err = m.Start(context.Background(), "barberia0001", "lunch", endsAt, now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRejectsPastEnd(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	m := New(rdb)

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	err := m.Start(context.Background(), "barberia0001", "lunch", now.Add(-time.Minute), now)
	assert.Error(t, err)
}

func TestEndDeletesKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := New(rdb)

	mock.ExpectDel("break:barberia0001").SetVal(1)
	require.NoError(t, m.End(context.Background(), "barberia0001"))

	// Ending with no active break is still fine.
	mock.ExpectDel("break:barberia0001").SetVal(0)
	require.NoError(t, m.End(context.Background(), "barberia0001"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveBreak(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := New(rdb)

	endsAt := time.Date(2025, time.June, 2, 12, 15, 0, 0, time.UTC)
	payload, err := json.Marshal(record{Message: "lunch", EndsAt: endsAt})
	require.NoError(t, err)
	mock.ExpectGet("break:barberia0001").SetVal(string(payload))

	brk := m.Get(context.Background(), "barberia0001")
	assert.True(t, brk.Active)
	assert.True(t, brk.EndsAt.Equal(endsAt))
	assert.Equal(t, "lunch", brk.Message)
}

func TestGetMissingKeyMeansNoBreak(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := New(rdb)

	mock.ExpectGet("break:barberia0001").RedisNil()

	brk := m.Get(context.Background(), "barberia0001")
	assert.False(t, brk.Active)
}

func TestGetFailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := New(rdb)

	mock.ExpectGet("break:barberia0001").SetErr(errors.New("connection refused"))

	brk := m.Get(context.Background(), "barberia0001")
	assert.False(t, brk.Active, "redis failure must not lock customers out")
}

func TestGetCorruptPayloadFailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := New(rdb)

	mock.ExpectGet("break:barberia0001").SetVal("{not json")

	brk := m.Get(context.Background(), "barberia0001")
	assert.False(t, brk.Active)
}
