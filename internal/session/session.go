// Package session owns the per-user state of a running voicetask: the
// credential and the task store, restored from and written to a persist.KV.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/persist"
	"github.com/GriffinCanCode/voicetask/internal/syncx"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// CredentialPrefix is the only validation applied to a credential.
const CredentialPrefix = "sk-"

// Session is the explicit session context handed to the orchestrator.
type Session struct {
	kv         persist.KV
	credential *syncx.RWGuard[string]
	store      *tasks.Store

	// mu orders login/logout against task mutations so nothing is written
	// to the snapshot without a credential.
	mu sync.Mutex
}

// Init restores the persisted credential and task collection.
// A corrupt task snapshot is logged and replaced by an empty collection.
func Init(ctx context.Context, kv persist.KV) (*Session, error) {
	cred, err := persist.LoadCredential(ctx, kv)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "load credential")
	}
	s := &Session{
		kv:         kv,
		credential: syncx.NewGuard(cred),
		store:      tasks.NewStore(persist.TaskSaver{KV: kv}),
	}
	if cred != "" {
		s.reloadTasks(ctx)
	}
	return s, nil
}

// ValidCredential reports whether cred passes the prefix check.
func ValidCredential(cred string) bool {
	return strings.HasPrefix(strings.TrimSpace(cred), CredentialPrefix)
}

// Login validates and persists cred, then loads the saved tasks.
func (s *Session) Login(ctx context.Context, cred string) error {
	cred = strings.TrimSpace(cred)
	if !ValidCredential(cred) {
		return errors.Newf(errors.InvalidArgument, "credential must start with %q", CredentialPrefix)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential.Set(cred)
	if err := s.kv.Set(ctx, persist.CredentialKey, cred); err != nil {
		return errors.Wrap(err, errors.PersistenceWriteFailed, "save credential")
	}
	s.reloadTasks(ctx)
	trace.Logger(ctx).Info("logged in", "tasks", s.store.Len())
	return nil
}

// Logout clears the credential in memory and storage and drops the in-memory
// collection. The persisted task snapshot is kept for the next login.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential.Set("")
	s.store.Load(nil)
	if err := s.kv.Delete(ctx, persist.CredentialKey); err != nil {
		return errors.Wrap(err, errors.PersistenceWriteFailed, "delete credential")
	}
	trace.Logger(ctx).Info("logged out")
	return nil
}

// Credential returns the current credential, "" when logged out.
func (s *Session) Credential() string { return s.credential.Get() }

// Authenticated reports whether a credential is present.
func (s *Session) Authenticated() bool {
	return syncx.Read(s.credential, func(c string) bool { return c != "" })
}

// Tasks returns the collection. It fails while logged out, when the
// in-memory collection does not reflect the saved one.
func (s *Session) Tasks() ([]tasks.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Authenticated() {
		return nil, unauthenticated()
	}
	return s.store.Snapshot(), nil
}

// AppendTasks appends batch on behalf of the run that captured credential.
// The store is left untouched if that credential is no longer the current one.
func (s *Session) AppendTasks(ctx context.Context, credential string, batch []tasks.Record) ([]tasks.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.credential.Get(); cur == "" || cur != credential {
		return nil, errors.New(errors.Unauthenticated, "logged out before the tasks were saved")
	}
	return s.store.Append(ctx, batch)
}

// DeleteTask removes the task at position i.
func (s *Session) DeleteTask(ctx context.Context, i int) (tasks.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Authenticated() {
		return tasks.Record{}, unauthenticated()
	}
	return s.store.DeleteAt(ctx, i)
}

// ClearTasks removes every task.
func (s *Session) ClearTasks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Authenticated() {
		return unauthenticated()
	}
	return s.store.Clear(ctx)
}

func unauthenticated() *errors.AppError {
	return errors.New(errors.Unauthenticated, "log in with an API key first")
}

// Store returns the session's task store. Mutations that must respect the
// login state go through the session methods instead.
func (s *Session) Store() *tasks.Store { return s.store }

// Close releases the storage backend.
func (s *Session) Close(ctx context.Context) error { return s.kv.Close(ctx) }

func (s *Session) reloadTasks(ctx context.Context) {
	records, err := persist.LoadTasks(ctx, s.kv)
	if err != nil {
		trace.Logger(ctx).Warn("discarding unreadable task snapshot", "error", err)
		records = nil
	}
	s.store.Load(records)
}
