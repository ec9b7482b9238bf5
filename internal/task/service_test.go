package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestSubmitValidatesRequest(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1), 0)

	_, err := service.Submit(context.Background(), Request{Kind: "batch"})
	assert.True(t, IsTaskError(err, CodeTaskValidation))

	_, err = service.Submit(context.Background(), Request{Kind: KindWorkflow, Input: "x"})
	assert.True(t, IsTaskError(err, CodeTaskValidation))
}

func TestSubmitIsIdempotentOnID(t *testing.T) {
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue, 2)

	first, err := service.Submit(context.Background(), Request{ID: "fixed", Kind: KindChat, Input: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.MaxRetries)

	second, err := service.Submit(context.Background(), Request{ID: "fixed", Kind: KindChat, Input: "b"})
	require.NoError(t, err)
	assert.Equal(t, "a", second.Input)
	assert.Equal(t, 1, queue.Len())
}

func TestSubmitMarksTaskFailedWhenPublishFails(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(context.Background(), Request{ID: "p1", Kind: KindChat, Input: "x"})
	require.Error(t, err)
	assert.True(t, IsTaskError(err, CodeTaskPublish))

	task, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, string(CodeTaskPublish), task.ErrorCode)
}

func TestServiceRequiresDependencies(t *testing.T) {
	service := NewService(nil, nil, 1)
	_, err := service.Submit(context.Background(), Request{Kind: KindChat})
	require.Error(t, err)
	_, err = service.Get(context.Background(), "x")
	require.Error(t, err)
}
