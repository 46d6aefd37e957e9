package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"salesetl/internal/warehouse"
	"salesetl/pkg/errors"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRedis implements LockClient over a map.
type memoryRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if m.err != nil {
		return redis.NewBoolResult(false, m.err)
	}
	if _, ok := m.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *memoryRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	if m.values[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(m.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedisLock(t *testing.T) {
	ctx := context.Background()
	client := newMemoryRedis()
	lock := NewRedisLock(client, "", 0)

	release, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, client.ttls["salesetl:run-lock"])

	_, ok, err = NewRedisLock(client, "", time.Minute).Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder is refused")

	require.NoError(t, release(ctx))
	assert.Empty(t, client.values)

	_, ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
}

func TestRedisLockReleaseAfterTakeover(t *testing.T) {
	ctx := context.Background()
	client := newMemoryRedis()
	lock := NewRedisLock(client, "etl", time.Second)

	release, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry followed by another run taking the lock.
	client.values["etl"] = "someone-else"

	err = release(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRunLocked, errors.GetErrorCode(err))
	assert.Equal(t, "someone-else", client.values["etl"], "foreign token is left alone")
}

func TestRedisLockClientError(t *testing.T) {
	client := newMemoryRedis()
	client.err = fmt.Errorf("dial tcp: connection refused")

	_, ok, err := NewRedisLock(client, "", 0).Acquire(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, errors.ErrCodeRunLocked, errors.GetErrorCode(err))
}

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	writer := &recordingWriter{}
	pub := &KafkaPublisher{writer: writer, topic: "salesetl.runs"}

	report := newRunReport(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	report.State = StateDone
	report.FinishedAt = report.StartedAt.Add(time.Minute)
	report.Facts = &warehouse.FactLoadResult{Inserted: 3, Dropped: map[string]int{warehouse.DropDate: 1}}

	require.NoError(t, pub.Publish(context.Background(), report))
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	assert.Equal(t, report.RunID, string(msg.Key))
	assert.Equal(t, "Done", string(msg.Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "Done", decoded["state"])
	assert.Equal(t, float64(3), decoded["facts"].(map[string]interface{})["inserted"])

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWriteError(t *testing.T) {
	pub := &KafkaPublisher{writer: &recordingWriter{err: fmt.Errorf("leader not available")}, topic: "runs"}

	err := pub.Publish(context.Background(), newRunReport(time.Now()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeReportPublish, errors.GetErrorCode(err))
	assert.True(t, errors.IsRecoverable(err))
}

func TestRunReportDegraded(t *testing.T) {
	r := newRunReport(time.Now())
	assert.False(t, r.Degraded())
	assert.Zero(t, r.Duration())

	r.Facts = &warehouse.FactLoadResult{Failed: 1}
	assert.True(t, r.Degraded())
}
