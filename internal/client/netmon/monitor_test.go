package netmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"couplesync/internal/logging"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInitialize_SeedsFlag(t *testing.T) {
	p := &fakePinger{}
	m := New(p, time.Second, testLogger())
	m.Initialize(context.Background())
	assert.True(t, m.IsOnline())

	p.err = errors.New("down")
	m2 := New(p, time.Second, testLogger())
	m2.Initialize(context.Background())
	assert.False(t, m2.IsOnline())
}

func TestCheck_FiresOnlyOnTransition(t *testing.T) {
	p := &fakePinger{}
	m := New(p, time.Second, testLogger())
	m.Initialize(context.Background())

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })

	// online → online: no callback
	m.Check(context.Background())
	assert.Empty(t, got)

	// online → offline
	p.err = errors.New("down")
	m.Check(context.Background())
	assert.Equal(t, []bool{false}, got)

	// offline → offline: no callback
	m.Check(context.Background())
	assert.Equal(t, []bool{false}, got)

	// offline → online
	p.err = nil
	m.Check(context.Background())
	assert.Equal(t, []bool{false, true}, got)
}

func TestUnsubscribe(t *testing.T) {
	p := &fakePinger{}
	m := New(p, time.Second, testLogger())
	m.Initialize(context.Background())

	calls := 0
	unsub := m.Subscribe(func(bool) { calls++ })
	unsub()

	p.err = errors.New("down")
	m.Check(context.Background())
	assert.Zero(t, calls)
}
