package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/domain/syncjob"
)

func TestEventSerializer_RegisteredTypes(t *testing.T) {
	serializer := NewEventSerializer()

	assert.Equal(t, []string{
		"inventory.discrepancy",
		"inventory.sale_recorded",
		"sync.completed",
		"sync.failed",
		"sync.progress",
		"sync.started",
	}, serializer.RegisteredTypes())
	assert.False(t, serializer.IsRegistered("test.event"))

	serializer.Register("test.event", &testEvent{})
	assert.True(t, serializer.IsRegistered("test.event"))
}

func TestEventSerializer_RoundTrip(t *testing.T) {
	serializer := NewEventSerializer()

	job, err := syncjob.NewSyncJob(syncjob.JobTypeInventory, syncjob.PriorityHigh, []string{"SKU-1", "SKU-2"}, 3, "test")
	require.NoError(t, err)
	require.NoError(t, job.Start(2))

	tests := []struct {
		name  string
		event shared.DomainEvent
		check func(t *testing.T, decoded any)
	}{
		{
			name:  "discrepancy",
			event: integration.NewInventoryDiscrepancyEvent("SKU-9", 3, 30),
			check: func(t *testing.T, decoded any) {
				e := decoded.(*integration.InventoryDiscrepancyEvent)
				assert.Equal(t, "SKU-9", e.SKU)
				assert.Equal(t, 27, e.Magnitude)
				assert.Equal(t, "SKU-9", e.AggregateID())
			},
		},
		{
			name:  "sale",
			event: inventory.NewSaleRecordedEvent("SKU-1", integration.PlatformA, "ord-1", "line-1", 2),
			check: func(t *testing.T, decoded any) {
				e := decoded.(*inventory.SaleRecordedEvent)
				assert.Equal(t, integration.PlatformA, e.Platform)
				assert.Equal(t, 2, e.Quantity)
			},
		},
		{
			name:  "sync started",
			event: syncjob.NewSyncStartedEvent(job),
			check: func(t *testing.T, decoded any) {
				e := decoded.(*syncjob.SyncStartedEvent)
				assert.Equal(t, job.ID.String(), e.JobID)
				assert.Equal(t, 2, e.Total)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.event
			data, err := serializer.Serialize(original)
			require.NoError(t, err)

			decoded, err := serializer.Deserialize(original.EventType(), data)
			require.NoError(t, err)
			assert.Equal(t, original.EventID(), decoded.EventID())
			assert.Equal(t, original.EventType(), decoded.EventType())
			tt.check(t, decoded)
		})
	}
}

func TestEventSerializer_DeserializeErrors(t *testing.T) {
	serializer := NewEventSerializer()

	_, err := serializer.Deserialize("unknown.event", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")

	_, err = serializer.Deserialize(inventory.EventTypeSaleRecorded, []byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
