package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/events"
	"example.com/learnsync/internal/syncengine"
)

type stubWriter struct {
	mu       sync.Mutex
	topic    string
	messages []kafka.Message
	err      error
}

func (w *stubWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.topic = topic
	w.messages = append(w.messages, msgs...)
	return nil
}

type stubRegistry struct {
	calls   int
	subject string
	id      int
	err     error
}

func (r *stubRegistry) EnsureSchema(_ context.Context, subject, _ string) (int, error) {
	r.calls++
	r.subject = subject
	return r.id, r.err
}

func sampleReport() syncengine.Report {
	start := time.Date(2025, time.July, 1, 8, 0, 0, 0, time.UTC)
	return syncengine.Report{
		Outcome:    syncengine.OutcomeFailed,
		Trigger:    syncengine.SignalForeground,
		Identity:   "u1",
		Pushed:     map[domain.Kind]int{domain.KindProfile: 1, domain.KindActivity: 0},
		Adopted:    map[domain.Kind]int{domain.KindActivity: 2},
		FailedStep: "push activities",
		Error:      "push activities: timeout",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	}
}

func TestPublishFramesPayloadWithSchemaID(t *testing.T) {
	writer := &stubWriter{}
	registry := &stubRegistry{id: 42}
	p := NewPublisher(writer, registry, "learnsync.sync-sessions", "device-7")

	require.NoError(t, p.Publish(context.Background(), sampleReport()))
	require.NoError(t, p.Publish(context.Background(), sampleReport()))

	require.Equal(t, 1, registry.calls, "schema id is cached")
	require.Equal(t, "learnsync.sync-sessions-value", registry.subject)
	require.Equal(t, "learnsync.sync-sessions", writer.topic)
	require.Len(t, writer.messages, 2)

	msg := writer.messages[0]
	require.Equal(t, []byte("u1"), msg.Key)
	require.Equal(t, byte(0), msg.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(msg.Value[1:5]))

	var event events.SyncSessionCompleted
	require.NoError(t, json.Unmarshal(msg.Value[5:], &event))
	require.Equal(t, "u1", event.UserID)
	require.Equal(t, "device-7", event.DeviceID)
	require.Equal(t, "failed", event.Outcome)
	require.Equal(t, "foreground", event.Trigger)
	require.Equal(t, map[string]int{"profile": 1}, event.Pushed)
	require.Equal(t, map[string]int{"activity": 2}, event.Adopted)
	require.Equal(t, events.SchemaVersion, event.Version)
	require.NotEmpty(t, event.SessionID)
}

func TestSessionCompletedSwallowsFailures(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker down")}
	p := NewPublisher(writer, &stubRegistry{id: 1}, "topic", "device")

	before := testutil.ToFloat64(publishFailures)
	p.SessionCompleted(context.Background(), sampleReport())
	require.Equal(t, before+1, testutil.ToFloat64(publishFailures))
}

func TestRegistryFailureIsNotCached(t *testing.T) {
	registry := &stubRegistry{err: errors.New("registry down")}
	writer := &stubWriter{}
	p := NewPublisher(writer, registry, "topic", "device")

	require.Error(t, p.Publish(context.Background(), sampleReport()))
	registry.err = nil
	registry.id = 9
	require.NoError(t, p.Publish(context.Background(), sampleReport()))
	require.Equal(t, 2, registry.calls)
	require.Len(t, writer.messages, 1)
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/sessions-value/versions/latest":
			if !registered {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"id": 11}`))
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/sessions-value/versions":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "JSON", body["schemaType"])
			registered = true
			_, _ = w.Write([]byte(`{"id": 11}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL+"/", srv.Client())
	id, err := client.EnsureSchema(context.Background(), "sessions-value", events.SyncSessionCompletedSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)

	id, err = client.EnsureSchema(context.Background(), "sessions-value", events.SyncSessionCompletedSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)
}

func TestSchemaRegistrySurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL, nil).EnsureSchema(context.Background(), "s", "{}")
	require.ErrorContains(t, err, "500")
}
