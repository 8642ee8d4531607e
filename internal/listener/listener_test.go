package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mu     sync.Mutex
	events []error // nil entries are notifications
	gap    time.Duration
	before func(i int)
	served int
	closed bool
}

func (m *MockNotifier) WaitForNotification(ctx context.Context) (string, error) {
	m.mu.Lock()
	if len(m.events) == 0 {
		m.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	ev := m.events[0]
	m.events = m.events[1:]
	i := m.served
	m.served++
	m.mu.Unlock()

	if m.gap > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.gap):
		}
	}
	if m.before != nil {
		m.before(i)
	}
	if ev != nil {
		return "", ev
	}
	return "email_template_change", nil
}

func (m *MockNotifier) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *MockNotifier) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer hands out the scripted connections in order; a nil entry is a
// failed dial. Once the script runs out it returns idle connections.
type MockDialer struct {
	mu     sync.Mutex
	script []*MockNotifier
	dials  int
	opened []*MockNotifier
}

func (d *MockDialer) Dial(ctx context.Context) (Notifier, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	n := &MockNotifier{}
	if len(d.script) > 0 {
		n = d.script[0]
		d.script = d.script[1:]
	}
	if n == nil {
		return nil, errors.New("connection refused")
	}
	d.opened = append(d.opened, n)
	return n, nil
}

func runRefresh(t *testing.T, d *MockDialer, reload func(context.Context) error, runFor time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		Refresh(ctx, d.Dial, reload, 10*time.Millisecond)
	}()

	time.Sleep(runFor)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestRefresh(t *testing.T) {
	lost := errors.New("conn lost")
	tests := []struct {
		name        string
		script      []*MockNotifier
		wantReloads int
		wantDials   int
	}{
		{"single notification reloads", []*MockNotifier{{events: []error{nil}}}, 1, 1},
		{"burst reloads once", []*MockNotifier{{events: []error{nil, nil, nil}}}, 1, 1},
		{"no notifications", nil, 0, 1},
		{"failed dial retries and reloads on connect", []*MockNotifier{nil, nil, {}}, 1, 3},
		{
			name: "wait error reconnects",
			script: []*MockNotifier{
				{events: []error{lost}},
				{events: []error{nil}},
			},
			wantReloads: 2, // catch-up after reconnect, then the notification
			wantDials:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu      sync.Mutex
				reloads int
			)
			d := &MockDialer{script: tt.script}
			runRefresh(t, d, func(context.Context) error {
				mu.Lock()
				reloads++
				mu.Unlock()
				return nil
			}, 600*time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tt.wantReloads, reloads)

			d.mu.Lock()
			defer d.mu.Unlock()
			assert.Equal(t, tt.wantDials, d.dials)
			for _, n := range d.opened {
				assert.True(t, n.isClosed(), "connection left open")
			}
		})
	}
}

func TestRefresh_LastChangeOfBurstIsLoaded(t *testing.T) {
	var (
		mu     sync.Mutex
		db     = "v1"
		cached string
	)
	n := &MockNotifier{
		events: []error{nil, nil},
		gap:    50 * time.Millisecond,
		before: func(i int) {
			if i == 1 {
				mu.Lock()
				db = "v2"
				mu.Unlock()
			}
		},
	}

	runRefresh(t, &MockDialer{script: []*MockNotifier{n}}, func(context.Context) error {
		mu.Lock()
		cached = db
		mu.Unlock()
		return nil
	}, 600*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "v2", db)
	assert.Equal(t, "v2", cached)
}

func TestRefresh_ReloadErrorKeepsListening(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	n := &MockNotifier{events: []error{nil}}
	n2 := &MockNotifier{events: []error{nil}}
	// Second connection is never dialed: a failed reload is not a connection error.
	d := &MockDialer{script: []*MockNotifier{n, n2}}
	runRefresh(t, d, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("query failed")
	}, 400*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, d.dials)
}

func TestJitter(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := jitter(time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.GreaterOrEqual(t, jitter(0), 500*time.Millisecond)
}
