package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulti(t *testing.T) {
	var a, b Recorder
	var calls int
	m := Multi{&a, nil, ObserverFunc(func(context.Context, Event) { calls++ }), &b}

	m.Notify(context.Background(), Event{Type: MatchCreated, Subject: "mat_1"})
	m.Notify(context.Background(), Event{Type: MatchDeleted, Subject: "mat_1"})

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.OfType(MatchDeleted), 1)
	assert.Equal(t, 2, calls)
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	o := NewLogObserver(zerolog.New(&buf))

	o.Notify(context.Background(), Event{
		Type:    ImportCompleted,
		Subject: "imp_1",
		Data:    map[string]any{"imported": 3},
	})

	out := buf.String()
	assert.Contains(t, out, `"event":"import.completed"`)
	assert.Contains(t, out, `"subject":"imp_1"`)
	assert.Contains(t, out, `"imported":3`)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w, zerolog.Nop())
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	p.Notify(context.Background(), Event{Type: MatchCreated, At: at, Subject: "mat_1", Data: map[string]any{"charge_id": "chg_1"}})

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "mat_1", string(msg.Key))
	assert.Equal(t, "match.created", string(msg.Headers[0].Value))

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, MatchCreated, got.Type)
	assert.Equal(t, "chg_1", got.Data["charge_id"])
	assert.True(t, got.At.Equal(at))
}

func TestKafkaPublisher_ErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(w, zerolog.New(&buf))

	p.Notify(context.Background(), Event{Type: MatchCreated, Subject: "mat_1"})
	assert.Contains(t, buf.String(), "broker down")
	require.NoError(t, p.Close())
}
