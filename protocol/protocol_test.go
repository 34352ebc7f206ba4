package protocol

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	decoded, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	return decoded
}

func TestMessageRoundTrip_Strings(t *testing.T) {
	m := NewMessage(RequestInputPortValueModify).
		AppendString("Node__port").
		AppendString(`{"value":42}`)

	decoded := roundTrip(t, m)

	if decoded.Code != uint32(RequestInputPortValueModify) {
		t.Errorf("code = %d, want %d", decoded.Code, RequestInputPortValueModify)
	}
	portID, err := decoded.String(0)
	if err != nil || portID != "Node__port" {
		t.Errorf("part 0 = %q (%v)", portID, err)
	}
	value, err := decoded.String(1)
	if err != nil || value != `{"value":42}` {
		t.Errorf("part 1 = %q (%v)", value, err)
	}
}

func TestMessageRoundTrip_BoolAndInt(t *testing.T) {
	m := NewMessage(RequestCompositionStop).
		AppendInt(30).
		AppendBool(true)

	decoded := roundTrip(t, m)

	timeout, err := decoded.Int(0)
	if err != nil || timeout != 30 {
		t.Errorf("timeout = %d (%v)", timeout, err)
	}
	beingReplaced, err := decoded.Bool(1)
	if err != nil || !beingReplaced {
		t.Errorf("beingReplaced = %v (%v)", beingReplaced, err)
	}
}

func TestMessageRoundTrip_EventID(t *testing.T) {
	m := NewMessage(TelemetryEventFinished).AppendUint64(1 << 40)
	decoded := roundTrip(t, m)
	id, err := decoded.Uint64(0)
	if err != nil || id != 1<<40 {
		t.Errorf("event id = %d (%v)", id, err)
	}
}

func TestMessageRoundTrip_AllRequestCodes(t *testing.T) {
	codes := []RequestCode{
		RequestCompositionStop, RequestCompositionPause, RequestCompositionUnpause,
		RequestInputPortValueModify, RequestInputPortValueRetrieve,
		RequestOutputPortValueRetrieve, RequestInputPortSummaryRetrieve,
		RequestOutputPortSummaryRetrieve, RequestTriggerPortFireEvent,
		RequestPublishedInputNamesRetrieve, RequestPublishedInputTypesRetrieve,
		RequestPublishedInputDetailsRetrieve, RequestPublishedOutputNamesRetrieve,
		RequestPublishedOutputTypesRetrieve, RequestPublishedOutputDetailsRetrieve,
		RequestPublishedInputPortFireEvent, RequestPublishedInputPortValueModify,
		RequestPublishedInputPortValueRetrieve, RequestPublishedOutputPortValueRetrieve,
		RequestSlowHeartbeat,
		RequestInputPortTelemetrySubscribe, RequestInputPortTelemetryUnsubscribe,
		RequestOutputPortTelemetrySubscribe, RequestOutputPortTelemetryUnsubscribe,
		RequestEventTelemetrySubscribe, RequestEventTelemetryUnsubscribe,
		RequestAllTelemetrySubscribe, RequestAllTelemetryUnsubscribe,
	}
	for _, code := range codes {
		decoded := roundTrip(t, NewMessage(code))
		if decoded.Code != uint32(code) {
			t.Errorf("code %d did not round-trip", code)
		}
	}
}

func TestReplyForMirrorsRequests(t *testing.T) {
	if ReplyFor(RequestCompositionStop) != ReplyCompositionStopping {
		t.Errorf("stop reply mismatch")
	}
	if ReplyFor(RequestTriggerPortFireEvent) != ReplyTriggerPortFiredEvent {
		t.Errorf("fire reply mismatch")
	}
	if ReplyFor(RequestAllTelemetryUnsubscribe) != ReplyAllTelemetryUnsubscribed {
		t.Errorf("telemetry reply mismatch")
	}
}

func TestMessage_EmptyString(t *testing.T) {
	decoded := roundTrip(t, NewMessage(RequestInputPortValueRetrieve).AppendString(""))
	s, err := decoded.String(0)
	if err != nil || s != "" {
		t.Errorf("empty string did not round-trip: %q (%v)", s, err)
	}
}

func TestMessage_PartErrors(t *testing.T) {
	m := NewMessage(RequestSlowHeartbeat)
	if _, err := m.String(0); err == nil {
		t.Errorf("reading a missing part should fail")
	}

	m.AppendBool(true)
	if _, err := m.String(0); err == nil {
		t.Errorf("reading a bool part as a string should fail")
	}
	if _, err := m.Int(0); err == nil {
		t.Errorf("reading a bool part as an int should fail")
	}
}

func TestReadMessage_CorruptStream(t *testing.T) {
	if _, err := ReadMessage(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Errorf("truncated header should fail")
	}

	// Absurd part count.
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadMessage(&buf); err == nil {
		t.Errorf("absurd part count should fail")
	}
}
