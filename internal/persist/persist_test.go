package persist

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/voicetask/internal/tasks"
)

var (
	_ KV = (*FileKV)(nil)
	_ KV = (*MongoKV)(nil)

	_ tasks.Saver = TaskSaver{}
)

func newFileKV(t *testing.T) *FileKV {
	t.Helper()
	kv, err := NewFileKV(filepath.Join(t.TempDir(), "nested", "state.json"))
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	return kv
}

func TestFileKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newFileKV(t)

	if _, err := kv.Get(ctx, CredentialKey); !stderrors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store error = %v, want ErrNotFound", err)
	}
	if err := kv.Set(ctx, CredentialKey, "sk-test"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, TasksKey, "[]"); err != nil {
		t.Fatal(err)
	}

	// A second handle on the same file sees both keys.
	other, _ := NewFileKV(kv.Path())
	if v, err := other.Get(ctx, CredentialKey); err != nil || v != "sk-test" {
		t.Errorf("Get(credential) = %q, %v", v, err)
	}

	if err := kv.Delete(ctx, CredentialKey); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, CredentialKey); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("credential should be gone, err = %v", err)
	}
	if v, _ := kv.Get(ctx, TasksKey); v != "[]" {
		t.Errorf("tasks key should survive credential delete, got %q", v)
	}
	if err := kv.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestFileKVLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	kv := newFileKV(t)
	for i := 0; i < 3; i++ {
		if err := kv.Set(ctx, TasksKey, "[]"); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(kv.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the state file", len(entries))
	}
}

func TestFileKVCorruptFile(t *testing.T) {
	kv := newFileKV(t)
	if err := os.WriteFile(kv.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(context.Background(), TasksKey); err == nil || stderrors.Is(err, ErrNotFound) {
		t.Errorf("Get on corrupt file error = %v, want decode error", err)
	}
}

func TestTaskSaverAndLoadTasks(t *testing.T) {
	ctx := context.Background()
	kv := newFileKV(t)

	if got, err := LoadTasks(ctx, kv); err != nil || len(got) != 0 {
		t.Fatalf("LoadTasks on empty = %v, %v", got, err)
	}

	saver := TaskSaver{KV: kv}
	records := []tasks.Record{
		tasks.NewRecord("Buy milk", "high", nil, "Household"),
		tasks.NewRecord("Oma bellen", "normaal", nil, "Familie"),
	}
	if err := saver.SaveTasks(ctx, records); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTasks(ctx, kv)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Description != "Buy milk" || got[1].CriticalityLabel != "normaal" {
		t.Errorf("LoadTasks = %+v", got)
	}

	if err := saver.SaveTasks(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if raw, _ := kv.Get(ctx, TasksKey); raw != "[]" {
		t.Errorf("empty collection persisted as %q, want []", raw)
	}
}

func TestLoadCredentialMissing(t *testing.T) {
	cred, err := LoadCredential(context.Background(), newFileKV(t))
	if err != nil || cred != "" {
		t.Errorf("LoadCredential = %q, %v", cred, err)
	}
}
