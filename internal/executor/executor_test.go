package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronfire/internal/models"
)

type mockRunner struct {
	DoFunc func(ctx context.Context, args ...interface{}) error
	calls  [][]interface{}
}

func (m *mockRunner) Do(ctx context.Context, args ...interface{}) error {
	m.calls = append(m.calls, args)
	if m.DoFunc != nil {
		return m.DoFunc(ctx, args...)
	}
	return nil
}

type mockBroker struct {
	PublishFunc func(topic string, message []byte) error
	published   []string
}

func (m *mockBroker) Publish(topic string, message []byte) error {
	m.published = append(m.published, topic)
	if m.PublishFunc != nil {
		return m.PublishFunc(topic, message)
	}
	return nil
}

func (m *mockBroker) Close() error { return nil }

func TestRegistry_ExactlyOneExecutorPerKind(t *testing.T) {
	reg := NewRegistry(
		NewCallbackExecutor(time.Second, "", ""),
		NewKeyValueCommandExecutor(&mockRunner{}),
		NewMessagePublishExecutor(&mockBroker{}),
	)

	for _, kind := range models.AllKinds {
		e, err := reg.For(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, e.Kind())
	}

	_, err := reg.For(models.JobKind("bogus"))
	assert.Error(t, err)
}

func TestCallbackExecutor_Success(t *testing.T) {
	var gotToken, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Scheduler-Token")
		gotMethod = r.Method
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewCallbackExecutor(5*time.Second, "X-Scheduler-Token", "s3cret")
	payload, _ := json.Marshal(models.CallbackPayload{URL: srv.URL, Body: "ping"})

	err := e.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", gotToken)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "ping", gotBody)
}

func TestCallbackExecutor_NonSuccessStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewCallbackExecutor(5*time.Second, "", "")
	payload, _ := json.Marshal(models.CallbackPayload{URL: srv.URL})

	err := e.Execute(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCallbackExecutor_RespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := NewCallbackExecutor(10*time.Second, "", "")
	payload, _ := json.Marshal(models.CallbackPayload{URL: srv.URL})

	err := e.Execute(ctx, payload)
	assert.Error(t, err)
}

func TestKeyValueExecutor_BuildsCommand(t *testing.T) {
	runner := &mockRunner{}
	e := NewKeyValueCommandExecutor(runner)

	payload, _ := json.Marshal(models.KeyValuePayload{Key: "counter", Command: "incr"})
	require.NoError(t, e.Execute(context.Background(), payload))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []interface{}{"incr", "counter"}, runner.calls[0])
}

func TestKeyValueExecutor_ExpireParsesSeconds(t *testing.T) {
	runner := &mockRunner{}
	e := NewKeyValueCommandExecutor(runner)

	payload, _ := json.Marshal(models.KeyValuePayload{Key: "session", Command: "expire", Value: "300"})
	require.NoError(t, e.Execute(context.Background(), payload))
	assert.Equal(t, []interface{}{"expire", "session", 300}, runner.calls[0])

	bad, _ := json.Marshal(models.KeyValuePayload{Key: "session", Command: "expire", Value: "soon"})
	assert.Error(t, e.Execute(context.Background(), bad))
}

func TestKeyValueExecutor_BackendErrorIsFailure(t *testing.T) {
	runner := &mockRunner{
		DoFunc: func(ctx context.Context, args ...interface{}) error {
			return errors.New("READONLY You can't write against a read only replica")
		},
	}
	e := NewKeyValueCommandExecutor(runner)

	payload, _ := json.Marshal(models.KeyValuePayload{Key: "k", Command: "set", Value: "v"})
	assert.Error(t, e.Execute(context.Background(), payload))
}

func TestPublishExecutor(t *testing.T) {
	b := &mockBroker{}
	e := NewMessagePublishExecutor(b)

	payload, _ := json.Marshal(models.PublishPayload{Topic: "orders.sync", Message: "go"})
	require.NoError(t, e.Execute(context.Background(), payload))
	assert.Equal(t, []string{"orders.sync"}, b.published)
}

func TestPublishExecutor_BrokerErrorIsFailure(t *testing.T) {
	b := &mockBroker{
		PublishFunc: func(topic string, message []byte) error {
			return errors.New("channel closed")
		},
	}
	e := NewMessagePublishExecutor(b)

	payload, _ := json.Marshal(models.PublishPayload{Topic: "t", Message: "m"})
	assert.Error(t, e.Execute(context.Background(), payload))
}
