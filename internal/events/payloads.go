// Package events defines the messages exchanged over Kafka between the
// task manager and the workers. They travel as protobuf Struct values.
package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// TaskDispatch is sent by the task manager for a worker to pick up.
type TaskDispatch struct {
	TaskID     string
	BatchID    string
	EnqueuedAt time.Time
}

// TaskCompletion is sent by the worker once a task reaches a terminal state.
type TaskCompletion struct {
	TaskID     string
	Status     string
	Error      string
	FinishedAt time.Time
}

func (d TaskDispatch) Marshal() ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"task_id":     d.TaskID,
		"batch_id":    d.BatchID,
		"enqueued_at": d.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch for task %s: %w", d.TaskID, err)
	}
	return proto.Marshal(s)
}

func UnmarshalTaskDispatch(b []byte) (TaskDispatch, error) {
	fields, err := decode(b)
	if err != nil {
		return TaskDispatch{}, err
	}
	d := TaskDispatch{
		TaskID:  fields["task_id"].GetStringValue(),
		BatchID: fields["batch_id"].GetStringValue(),
	}
	if d.TaskID == "" {
		return TaskDispatch{}, fmt.Errorf("dispatch message has no task_id")
	}
	d.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, fields["enqueued_at"].GetStringValue())
	return d, nil
}

func (c TaskCompletion) Marshal() ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"task_id":     c.TaskID,
		"status":      c.Status,
		"error":       c.Error,
		"finished_at": c.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion for task %s: %w", c.TaskID, err)
	}
	return proto.Marshal(s)
}

func UnmarshalTaskCompletion(b []byte) (TaskCompletion, error) {
	fields, err := decode(b)
	if err != nil {
		return TaskCompletion{}, err
	}
	c := TaskCompletion{
		TaskID: fields["task_id"].GetStringValue(),
		Status: fields["status"].GetStringValue(),
		Error:  fields["error"].GetStringValue(),
	}
	if c.TaskID == "" || c.Status == "" {
		return TaskCompletion{}, fmt.Errorf("completion message is missing task_id or status")
	}
	c.FinishedAt, _ = time.Parse(time.RFC3339Nano, fields["finished_at"].GetStringValue())
	return c, nil
}

func decode(b []byte) (map[string]*structpb.Value, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return s.GetFields(), nil
}
