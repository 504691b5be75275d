// Package enginetest provides an in-memory Engine implementation for tests.
// Behavior is scripted per call: queued errors are returned in order, and
// every statement, procedure call and stage write is recorded for assertions.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cklose2000/eventlake/pkg/engine"
)

// ExecCall records one Exec invocation.
type ExecCall struct {
	SQL   string
	Binds []any
}

// ProcCall records one Call invocation.
type ProcCall struct {
	Proc string
	Args []any
}

// Fake is an in-memory engine. The zero value is usable.
type Fake struct {
	mu sync.Mutex

	// Scripted behavior.
	execErrs   []error        // popped per Exec call; nil entries mean success
	callErrs   []error        // popped per Call call
	stageErrs  []error        // popped per PutStage call
	execResult *engine.Result // returned on successful Exec (copied)

	// Recorded activity.
	Execs    []ExecCall
	Procs    []ProcCall
	Stages   map[string][]byte
	Apps     map[string][]byte
	Sessions []engine.Session
	Landed   []map[string]any
}

// New returns an empty fake engine.
func New() *Fake {
	return &Fake{Stages: map[string][]byte{}, Apps: map[string][]byte{}}
}

// QueueExecError scripts the next Exec calls; nil entries succeed.
func (f *Fake) QueueExecError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execErrs = append(f.execErrs, errs...)
}

// QueueCallError scripts the next Call calls.
func (f *Fake) QueueCallError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callErrs = append(f.callErrs, errs...)
}

// QueueStageError scripts the next PutStage calls.
func (f *Fake) QueueStageError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageErrs = append(f.stageErrs, errs...)
}

// SetExecResult fixes the result returned by successful Exec calls.
func (f *Fake) SetExecResult(r *engine.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execResult = r
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// Exec records the call and returns the scripted result or error.
func (f *Fake) Exec(ctx context.Context, sqlText string, binds []any) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Execs = append(f.Execs, ExecCall{SQL: sqlText, Binds: binds})
	if err := pop(&f.execErrs); err != nil {
		return nil, err
	}
	if f.execResult != nil {
		cp := *f.execResult
		return &cp, nil
	}
	return &engine.Result{Metadata: engine.Metadata{QueryID: fmt.Sprintf("q-%d", len(f.Execs))}}, nil
}

// Call records the call. The landing procedure accumulates events in Landed.
func (f *Fake) Call(ctx context.Context, proc string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Procs = append(f.Procs, ProcCall{Proc: proc, Args: args})
	if err := pop(&f.callErrs); err != nil {
		return nil, err
	}
	if strings.EqualFold(proc, engine.ProcLogEvents) && len(args) == 1 {
		if batch, ok := toMaps(args[0]); ok {
			f.Landed = append(f.Landed, batch...)
			return map[string]any{"accepted": len(batch)}, nil
		}
	}
	return map[string]any{}, nil
}

// PutStage stores the bytes keyed by stage path.
func (f *Fake) PutStage(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.stageErrs); err != nil {
		return err
	}
	f.Stages[path] = append([]byte(nil), data...)
	return nil
}

// GetStage returns stored stage bytes.
func (f *Fake) GetStage(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Stages[path]
	if !ok {
		return nil, engine.NewError(engine.KindNotFound, "get_stage", fmt.Errorf("no stage file %q", path))
	}
	return data, nil
}

// ListStage lists stored paths under a prefix in lexicographic order.
func (f *Fake) ListStage(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.Stages {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RemoveStage deletes stored paths under a prefix.
func (f *Fake) RemoveStage(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := range f.Stages {
		if strings.HasPrefix(p, prefix) {
			delete(f.Stages, p)
		}
	}
	return nil
}

// CreateOrReplaceApp stores the manifest keyed by app name.
func (f *Fake) CreateOrReplaceApp(ctx context.Context, name string, manifest []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Apps[name] = append([]byte(nil), manifest...)
	return nil
}

// SetSession records the session.
func (f *Fake) SetSession(ctx context.Context, s engine.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sessions = append(f.Sessions, s)
	return nil
}

// LastSession returns the most recent session, or a zero session.
func (f *Fake) LastSession() engine.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sessions) == 0 {
		return engine.Session{}
	}
	return f.Sessions[len(f.Sessions)-1]
}

// LandedActions returns the actions of all landed events, in order.
func (f *Fake) LandedActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.Landed))
	for _, ev := range f.Landed {
		if a, ok := ev["action"].(string); ok {
			actions = append(actions, a)
		}
	}
	return actions
}

func toMaps(v any) ([]map[string]any, bool) {
	switch batch := v.(type) {
	case []map[string]any:
		return batch, true
	case []any:
		out := make([]map[string]any, 0, len(batch))
		for _, el := range batch {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}
