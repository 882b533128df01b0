package docstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionDeliversAndReportsErrors(t *testing.T) {
	var calls atomic.Int32
	failing := errors.New("backend down")
	delivered := make(chan []Document, 4)
	failures := make(chan error, 4)

	sub := NewSubscription(func(context.Context) ([]Document, error) {
		if calls.Add(1) == 2 {
			return nil, failing
		}
		return []Document{{ID: "a"}}, nil
	}, func(docs []Document) {
		delivered <- docs
	}, func(err error) {
		failures <- err
	})
	sub.Start()
	defer sub.Stop()

	select {
	case docs := <-delivered:
		assert.Equal(t, "a", docs[0].ID)
	case <-time.After(time.Second):
		t.Fatal("initial snapshot not delivered")
	}

	sub.Wake()
	select {
	case err := <-failures:
		assert.ErrorIs(t, err, failing)
	case <-time.After(time.Second):
		t.Fatal("error not reported")
	}

	sub.Wake()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("subscription stopped after error")
	}
}

func TestSubscriptionStop(t *testing.T) {
	var calls atomic.Int32
	sub := NewSubscription(func(context.Context) ([]Document, error) {
		return nil, nil
	}, func([]Document) {
		calls.Add(1)
	}, nil)
	sub.Start()
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	sub.Stop()
	sub.Stop()
	<-sub.Done()
	sub.Wake()

	assert.True(t, sub.Closed())
	assert.Never(t, func() bool { return calls.Load() > 1 }, 30*time.Millisecond, 5*time.Millisecond)
}
