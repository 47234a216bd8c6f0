package events

import (
	"context"
	"sync"
	"testing"

	"engage-service/internal/service/dissemination"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeHandler struct {
	events []dissemination.GeoposEvent
}

func (h *fakeHandler) HandleGeoposition(_ context.Context, ev dissemination.GeoposEvent) (int, error) {
	h.events = append(h.events, ev)
	return 1, nil
}

func TestConsumerHandlesAndCommitsEveryMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"terminal_id":7,"latitude":42.0,"longitude":42.0}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"terminal_id":8,"latitude":-1.28,"longitude":36.82}`)},
		},
	}
	handler := &fakeHandler{}
	c := &GeoposConsumer{reader: reader, handler: handler, logger: zap.NewNop()}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(handler.events) != 2 || handler.events[0].TerminalID != 7 || handler.events[1].TerminalID != 8 {
		t.Fatalf("handled = %+v", handler.events)
	}
	if len(reader.committed) != 3 {
		t.Fatalf("committed offsets = %v, want all three", reader.committed)
	}
}

func TestNewGeoposConsumerValidatesConfig(t *testing.T) {
	if _, err := NewGeoposConsumer(KafkaConfig{GroupID: "g", Topic: "t"}, &fakeHandler{}, zap.NewNop()); err == nil {
		t.Fatal("expected an error without brokers")
	}
}
