package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/types"
)

// mockEmitter records emitted daily stats.
type mockEmitter struct {
	mu      sync.Mutex
	emitted []DailyStats
	err     error
}

func (m *mockEmitter) EmitDailyStats(_ context.Context, stats DailyStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emitted = append(m.emitted, stats)
	return nil
}

func TestCollect_GathersAllCounts(t *testing.T) {
	db := &mockStatsDB{
		totalLeads:     1200,
		recentAssigns:  87,
		pendingConvs:   14,
		convertedToday: 3,
	}
	emitter := &mockEmitter{}
	service := NewStatsService(db, emitter, nil, nil)

	now := time.Date(2025, 6, 15, 23, 59, 0, 0, time.UTC)
	stats, err := service.Collect(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-15", stats.Date)
	assert.Equal(t, int64(1200), stats.TotalLeads)
	assert.Equal(t, int64(87), stats.AssignmentsLast7Days)
	assert.Equal(t, int64(14), stats.PendingConversions)
	assert.Equal(t, int64(3), stats.ClientsConvertedToday)

	// Window boundaries: 7 days back for assignments, calendar day for
	// conversions.
	assert.Equal(t, now.Add(-7*24*time.Hour), db.lastSinceCutoff)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), db.lastWindowStart)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), db.lastWindowFinish)

	require.Len(t, emitter.emitted, 1)
	assert.Equal(t, stats, emitter.emitted[0])
}

func TestCollect_QueryErrorAbortsSnapshot(t *testing.T) {
	db := &mockStatsDB{errOn: "pending"}
	service := NewStatsService(db, nil, nil, nil)

	_, err := service.Collect(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending conversions")
}

func TestCollect_EmitterFailureIsNonFatal(t *testing.T) {
	db := &mockStatsDB{totalLeads: 5}
	emitter := &mockEmitter{err: fmt.Errorf("cloudwatch throttled")}
	service := NewStatsService(db, emitter, nil, nil)

	stats, err := service.Collect(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalLeads)
}

func TestCollect_NilEmitterAllowed(t *testing.T) {
	service := NewStatsService(&mockStatsDB{}, nil, nil, nil)

	_, err := service.Collect(context.Background(), time.Now())
	require.NoError(t, err)
}

func TestCollect_PublishesDailyStatsNotification(t *testing.T) {
	db := &mockStatsDB{
		totalLeads:     1200,
		recentAssigns:  87,
		pendingConvs:   14,
		convertedToday: 3,
	}
	publisher := &mockPublisher{}
	service := NewStatsService(db, nil, publisher, nil)

	now := time.Date(2025, 6, 15, 23, 59, 0, 0, time.UTC)
	_, err := service.Collect(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, types.NotificationDailyStats, msg.Kind)
	assert.Contains(t, msg.Body, "2025-06-15")
	assert.Contains(t, msg.Body, "1200 leads")
	assert.Contains(t, msg.Body, "3 clients converted today")
	assert.NotEmpty(t, msg.TraceID)
	assert.Equal(t, now, msg.OccurredAt)
}

func TestCollect_PublishFailureIsNonFatal(t *testing.T) {
	db := &mockStatsDB{totalLeads: 5}
	publisher := &mockPublisher{err: fmt.Errorf("queue unavailable")}
	service := NewStatsService(db, nil, publisher, nil)

	stats, err := service.Collect(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalLeads)
}
