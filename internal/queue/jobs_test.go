package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{}, nil
}

func TestDispatchEnqueuesImportTask(t *testing.T) {
	client := &fakeClient{}
	require.NoError(t, NewDispatcher(client, "imports").Dispatch(context.Background(), "file-1"))

	require.Len(t, client.tasks, 1)
	assert.Equal(t, ImportTask, client.tasks[0].Type())
	assert.JSONEq(t, `{"file_id":"file-1"}`, string(client.tasks[0].Payload()))
	require.Len(t, client.opts[0], 1)
	assert.Equal(t, asynq.QueueOpt, client.opts[0][0].Type())

	p, err := ParseImportPayload(client.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "file-1", p.FileID)
}

func TestDispatchWrapsEnqueueError(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	err := NewDispatcher(&fakeClient{err: boom}, "").Dispatch(context.Background(), "file-1")
	assert.ErrorIs(t, err, boom)
}

func TestParseImportPayloadRejectsEmptyID(t *testing.T) {
	_, err := ParseImportPayload(asynq.NewTask(ImportTask, []byte(`{}`)))
	assert.Error(t, err)
	_, err = ParseImportPayload(asynq.NewTask(ImportTask, []byte(`not json`)))
	assert.Error(t, err)
}
