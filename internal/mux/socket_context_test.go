package mux

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
	"gotest.tools/assert"
)

func testDurations() Durations {
	return Durations{
		ConnectTimeout: 200 * time.Millisecond,
		SendTimeout:    200 * time.Millisecond,
		IdleTimeout:    200 * time.Millisecond,
		LingerDelay:    10 * time.Millisecond,
	}
}

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(testDiscard{})
	return log.WithField("test", true)
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestSocketContextConnectsAtMostOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	defer server.Close()

	var calls int32
	dial := func(ctx context.Context, target string) (net.Conn, error) {
		atomic.AddInt32(&calls, 1)
		return client, nil
	}

	sc := NewPendingSocketContext(1, "ignored", dial, context.Background(), testDurations(), discardLog())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sc.ensureConnected(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, atomic.LoadInt32(&calls), int32(1))
	_ = sc.Close()
}

func TestSocketContextSendReceiveRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	sc := NewConnectedSocketContext(1, client, context.Background(), testDurations(), discardLog())
	defer sc.Close()

	go func() {
		buf := make([]byte, 5)
		n, _ := server.Read(buf)
		server.Write(buf[:n])
	}()

	err := sc.Send(context.Background(), []byte("hello"))
	assert.NilError(t, err)

	buf := make([]byte, 16)
	n, err := sc.Receive(context.Background(), buf)
	assert.NilError(t, err)
	assert.Equal(t, string(buf[:n]), "hello")
}

func TestSocketContextZeroLengthSendClosesWithoutError(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	defer server.Close()
	sc := NewConnectedSocketContext(1, client, context.Background(), testDurations(), discardLog())

	err := sc.Send(context.Background(), nil)
	assert.NilError(t, err)
	assert.Assert(t, sc.Cancelled())
}

func TestSocketContextReceiveErrorCancels(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	sc := NewConnectedSocketContext(1, client, context.Background(), testDurations(), discardLog())
	defer sc.Close()

	server.Close()

	buf := make([]byte, 16)
	_, err := sc.Receive(context.Background(), buf)
	assert.Assert(t, err != nil)
	assert.Assert(t, sc.Cancelled())
}
