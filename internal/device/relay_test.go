package device

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController stands in for the door controller firmware.
type fakeController struct {
	mu       sync.Mutex
	commands []string
	status   int
	delay    time.Duration
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/comando" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	f.commands = append(f.commands, r.URL.Query().Get("cmd"))
	status, delay := f.status, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte("OK")) //nolint:errcheck // test server
}

func (f *fakeController) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func newRelayFor(t *testing.T, srv *httptest.Server, timeout time.Duration) *Relay {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewRelay(Config{Host: host, Port: port, Timeout: timeout})
}

type recordingSink struct {
	mu      sync.Mutex
	results []CommandResult
}

func (s *recordingSink) RecordCommand(_ context.Context, res CommandResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

func TestRelay_SendCommandSuccess(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(ctrl)
	defer srv.Close()

	relay := newRelayFor(t, srv, time.Second)
	assert.True(t, relay.SendCommand(t.Context(), CommandOpenDoor))
	assert.Equal(t, []string{CommandOpenDoor}, ctrl.received())

	last, ok := relay.LastCommand()
	require.True(t, ok)
	assert.True(t, last.Success)
	assert.Equal(t, http.StatusOK, last.StatusCode)
	assert.Equal(t, "OK", last.Response)
}

func TestRelay_CommandIsURLEncoded(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(ctrl)
	defer srv.Close()

	relay := newRelayFor(t, srv, time.Second)
	require.True(t, relay.SendCommand(t.Context(), "LED ON&x=1"))
	assert.Equal(t, []string{"LED ON&x=1"}, ctrl.received())
}

func TestRelay_NonOKIsFailure(t *testing.T) {
	ctrl := &fakeController{status: http.StatusInternalServerError}
	srv := httptest.NewServer(ctrl)
	defer srv.Close()

	relay := newRelayFor(t, srv, time.Second)
	res, err := relay.Execute(t.Context(), CommandCloseDoor, "alice")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, res.Error, "500")
	assert.Equal(t, "alice", res.Actor)
}

func TestRelay_TimeoutIsFailure(t *testing.T) {
	ctrl := &fakeController{delay: time.Second}
	srv := httptest.NewServer(ctrl)
	defer srv.Close()

	relay := newRelayFor(t, srv, 50*time.Millisecond)
	start := time.Now()
	assert.False(t, relay.SendCommand(t.Context(), CommandOpenDoor))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Len(t, ctrl.received(), 1, "no retry")
}

func TestRelay_UnreachableIsFailure(t *testing.T) {
	srv := httptest.NewServer(&fakeController{})
	relay := newRelayFor(t, srv, 200*time.Millisecond)
	srv.Close()

	assert.False(t, relay.SendCommand(t.Context(), CommandTestConnection))

	st := relay.Status(t.Context())
	assert.False(t, st.Reachable)
	require.NotNil(t, st.LastCommand)
	assert.Equal(t, CommandTestConnection, st.LastCommand.Command)
	assert.NotEmpty(t, st.LastCommand.Error)

	assert.ErrorIs(t, relay.Ping(t.Context()), ErrUnreachable)
}

func TestRelay_StatusReachable(t *testing.T) {
	srv := httptest.NewServer(&fakeController{})
	defer srv.Close()

	relay := newRelayFor(t, srv, time.Second)
	st := relay.Status(t.Context())
	assert.True(t, st.Reachable)
	assert.Nil(t, st.LastCommand)
	assert.True(t, strings.HasPrefix(st.Address, "127.0.0.1:"))
}

func TestRelay_InvalidCommand(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(ctrl)
	defer srv.Close()

	relay := newRelayFor(t, srv, time.Second)
	for _, cmd := range []string{"", strings.Repeat("A", maxCommandLength+1), "OPEN\nDOOR"} {
		_, err := relay.Execute(t.Context(), cmd, "")
		assert.ErrorIs(t, err, ErrInvalidCommand, "command %q", cmd)
		assert.False(t, relay.SendCommand(t.Context(), cmd))
	}
	assert.Empty(t, ctrl.received())
	_, ok := relay.LastCommand()
	assert.False(t, ok)
}

func TestRelay_SinksReceiveResults(t *testing.T) {
	srv := httptest.NewServer(&fakeController{})
	defer srv.Close()

	relay := newRelayFor(t, srv, time.Second)
	sink := &recordingSink{}
	relay.AddSink(sink)

	_, err := relay.Execute(t.Context(), CommandOpenDoor, "bob")
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	assert.Equal(t, CommandOpenDoor, sink.results[0].Command)
	assert.Equal(t, "bob", sink.results[0].Actor)
	assert.True(t, sink.results[0].Success)
}

func TestNewRelay_DefaultTimeout(t *testing.T) {
	relay := NewRelay(Config{Host: "192.168.1.50", Port: 80})
	assert.Equal(t, DefaultTimeout, relay.client.Timeout)
	assert.Equal(t, "192.168.1.50:80", relay.Address())
}
