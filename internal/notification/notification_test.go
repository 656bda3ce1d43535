package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/cardrail/internal/logging"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaNotifierPublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w, "cardrail.notifications")

	err := n.Send(context.Background(), Message{
		Kind:        KindSettlementFailed,
		Destination: "cust-1",
		Body:        "card funding failed",
		Attributes:  map[string]string{"card_id": "card-1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "cardrail.notifications" || string(msg.Key) != "cust-1" {
		t.Fatalf("unexpected message routing %q %q", msg.Topic, msg.Key)
	}
	var decoded Message
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindSettlementFailed || decoded.Attributes["card_id"] != "card-1" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Send(context.Context, Message) error {
	n.calls++
	return n.err
}

func TestMultiSendsToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &countingNotifier{err: boom}
	b := &countingNotifier{}
	err := Multi{a, nil, b}.Send(context.Background(), Message{Kind: KindLiquidityLow})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both notifiers called, got %d %d", a.calls, b.calls)
	}
}

func TestDispatchSwallowsErrors(t *testing.T) {
	n := NewKafkaNotifier(&fakeWriter{err: errors.New("broker down")}, "")
	// must not panic or block
	Dispatch(context.Background(), n, logging.Discard(), Message{Kind: KindSettlementFailed})
	Dispatch(context.Background(), nil, logging.Discard(), Message{Kind: KindSettlementFailed})
}
