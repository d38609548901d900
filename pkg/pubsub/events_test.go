package pubsub

import (
	"testing"
	"time"
)

func TestQueryCompletedEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   QueryCompletedEvent
		wantErr bool
	}{
		{
			name: "valid cache hit",
			event: QueryCompletedEvent{
				Version:     EventVersion1,
				Service:     "gateway",
				CacheHit:    true,
				HitType:     "exact",
				Status:      "success",
				Endpoint:    "SubmitQuery",
				Duration:    2 * time.Millisecond,
				CompletedAt: now,
				RequestID:   "req-123",
			},
			wantErr: false,
		},
		{
			name: "valid llm miss",
			event: QueryCompletedEvent{
				Version:      EventVersion1,
				Service:      "gateway",
				Status:       "success",
				Endpoint:     "SubmitQuery",
				Duration:     1200 * time.Millisecond,
				InputTokens:  50,
				OutputTokens: 120,
				CostUnits:    0.0034,
				CompletedAt:  now,
				RequestID:    "req-456",
			},
			wantErr: false,
		},
		{
			name: "invalid version",
			event: QueryCompletedEvent{
				Version:     999,
				Service:     "gateway",
				Status:      "success",
				CompletedAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "missing service",
			event: QueryCompletedEvent{
				Version:     EventVersion1,
				Status:      "success",
				CompletedAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "missing status",
			event: QueryCompletedEvent{
				Version:     EventVersion1,
				Service:     "gateway",
				CompletedAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "negative duration",
			event: QueryCompletedEvent{
				Version:     EventVersion1,
				Service:     "gateway",
				Status:      "success",
				Duration:    -1,
				CompletedAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "negative tokens",
			event: QueryCompletedEvent{
				Version:     EventVersion1,
				Service:     "gateway",
				Status:      "success",
				InputTokens: -1,
				CompletedAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "zero completed_at",
			event: QueryCompletedEvent{
				Version:   EventVersion1,
				Service:   "gateway",
				Status:    "success",
				RequestID: "req-123",
			},
			wantErr: true,
		},
		{
			name: "missing request_id",
			event: QueryCompletedEvent{
				Version:     EventVersion1,
				Service:     "gateway",
				Status:      "success",
				CompletedAt: now,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryCompletedEvent_JSON(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	event := QueryCompletedEvent{
		Version:      EventVersion1,
		Service:      "gateway",
		CacheHit:     false,
		Status:       "success",
		Endpoint:     "SubmitQuery",
		Duration:     900 * time.Millisecond,
		InputTokens:  30,
		OutputTokens: 90,
		CostUnits:    0.0021,
		BreakerState: 0,
		CompletedAt:  now,
		RequestID:    "req-789",
	}

	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	decoded, err := QueryCompletedEventFromJSON(data)
	if err != nil {
		t.Fatalf("QueryCompletedEventFromJSON() error = %v", err)
	}

	if decoded.Service != event.Service {
		t.Errorf("Service = %v, want %v", decoded.Service, event.Service)
	}
	if decoded.Status != event.Status {
		t.Errorf("Status = %v, want %v", decoded.Status, event.Status)
	}
	if decoded.Duration != event.Duration {
		t.Errorf("Duration = %v, want %v", decoded.Duration, event.Duration)
	}
	if decoded.InputTokens != event.InputTokens || decoded.OutputTokens != event.OutputTokens {
		t.Errorf("tokens = (%v,%v), want (%v,%v)", decoded.InputTokens, decoded.OutputTokens, event.InputTokens, event.OutputTokens)
	}
	if decoded.CostUnits != event.CostUnits {
		t.Errorf("CostUnits = %v, want %v", decoded.CostUnits, event.CostUnits)
	}
	if !decoded.CompletedAt.Equal(event.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", decoded.CompletedAt, event.CompletedAt)
	}
	if decoded.RequestID != event.RequestID {
		t.Errorf("RequestID = %v, want %v", decoded.RequestID, event.RequestID)
	}
}
