package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestTaskDispatch_Decode(t *testing.T) {
	at := time.Date(2025, 11, 1, 2, 3, 4, 5, time.UTC)
	b, err := TaskDispatch{TaskID: "t-1", BatchID: "b-1", EnqueuedAt: at}.Marshal()
	require.NoError(t, err)

	d, err := UnmarshalTaskDispatch(b)
	require.NoError(t, err)
	assert.Equal(t, "t-1", d.TaskID)
	assert.Equal(t, "b-1", d.BatchID)
	assert.True(t, at.Equal(d.EnqueuedAt))
}

func TestTaskCompletion_Decode(t *testing.T) {
	b, err := TaskCompletion{TaskID: "t-1", Status: "failed", Error: "step 2 failed"}.Marshal()
	require.NoError(t, err)

	c, err := UnmarshalTaskCompletion(b)
	require.NoError(t, err)
	assert.Equal(t, "failed", c.Status)
	assert.Equal(t, "step 2 failed", c.Error)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := UnmarshalTaskDispatch([]byte{0xff, 0x01})
	assert.Error(t, err)

	empty, err := structpb.NewStruct(map[string]interface{}{"batch_id": "b"})
	require.NoError(t, err)
	b, err := proto.Marshal(empty)
	require.NoError(t, err)

	_, err = UnmarshalTaskDispatch(b)
	assert.Error(t, err, "task_id is required")
	_, err = UnmarshalTaskCompletion(b)
	assert.Error(t, err)
}
