// Package persist stores the session's two keyed entries: the credential and
// the task snapshot. Keys are independent; there is no cross-key transaction.
package persist

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/GriffinCanCode/voicetask/internal/tasks"
)

// Persisted keys.
const (
	CredentialKey = "voiceTaskApiKey"
	TasksKey      = "voiceTasks"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = stderrors.New("key not found")

// KV is a string key-value backend.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// TaskSaver adapts a KV to tasks.Saver.
type TaskSaver struct {
	KV KV
}

// SaveTasks writes the full collection as a JSON array.
func (s TaskSaver) SaveTasks(ctx context.Context, records []tasks.Record) error {
	if records == nil {
		records = []tasks.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	return s.KV.Set(ctx, TasksKey, string(data))
}

// LoadTasks reads the persisted collection; a missing key is an empty collection.
func LoadTasks(ctx context.Context, kv KV) ([]tasks.Record, error) {
	raw, err := kv.Get(ctx, TasksKey)
	if stderrors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []tasks.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return records, nil
}

// LoadCredential reads the persisted credential; a missing key returns "".
func LoadCredential(ctx context.Context, kv KV) (string, error) {
	cred, err := kv.Get(ctx, CredentialKey)
	if stderrors.Is(err, ErrNotFound) {
		return "", nil
	}
	return cred, err
}
