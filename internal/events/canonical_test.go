package events

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope("session:s1", "corr-1", ChatRequestedV1{
		SessionID: "s1",
		UserID:    "u1",
		Message:   "I have a headache",
		Timestamp: fixedNow,
	}, WithEventID(id))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != TypeChatRequested {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.CorrelationID != "corr-1" {
		t.Fatalf("unexpected correlation id: %s", env.CorrelationID)
	}
	if len(env.Payload) == 0 {
		t.Fatal("expected payload bytes")
	}
}

func TestEnvelopeRoundTripThroughQueueBody(t *testing.T) {
	hr := 72.0
	env, err := NewEnvelope("user:u1", "", ContextChangedV1{
		UserID: "u1",
		Type:   "health_sync",
		Data:   &domain.HealthSnapshot{UserID: "u1", Current: domain.Vitals{HeartRate: &hr}},
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	body, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseEnvelope(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	evt, err := Decode[ContextChangedV1](parsed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Data == nil || evt.Data.Current.HeartRate == nil || *evt.Data.Current.HeartRate != 72 {
		t.Fatalf("unexpected snapshot: %#v", evt.Data)
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	env, err := NewEnvelope("user:u1", "", ContextRequestV1{UserID: "u1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if _, err := Decode[HealthSyncV1](env); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	for _, body := range []string{"not json", `{"payload":{}}`} {
		if _, err := ParseEnvelope([]byte(body)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("body %q: expected malformed error, got %v", body, err)
		}
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("", "", ChatRequestedV1{}); err == nil {
		t.Fatal("expected aggregate error")
	}
	if _, err := NewEnvelope("agg", "", nil); err == nil {
		t.Fatal("expected nil event error")
	}
	if _, err := NewEnvelope("agg", "", badEvent{}); err == nil {
		t.Fatal("expected event type error")
	}
}

func TestWithTimestampOption(t *testing.T) {
	target := time.Unix(50, 123000).UTC()
	env, err := NewEnvelope("agg", "", HealthSyncV1{UserID: "x"}, WithTimestamp(target))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TimestampMicros != target.UnixMicro() {
		t.Fatalf("expected timestamp override, got %d", env.TimestampMicros)
	}
	if !env.Time().Equal(target) {
		t.Fatalf("unexpected Time(): %v", env.Time())
	}
}
