// Package syncer pushes dirty local records to the remote store and pulls the
// remote view back into the local store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/session"
)

// Defaults for Options.
const (
	DefaultBatchSize  = 50
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 30 * time.Second
	DefaultMaxDelay   = 30 * time.Minute
)

// Remote is the part of the remote store client the engine needs.
type Remote interface {
	CreateCase(ctx context.Context, token string, c model.Case) (int64, error)
	UpdateCase(ctx context.Context, token string, serverID int64, c model.Case) error
	CreateAttendance(ctx context.Context, token string, a model.Attendance) (int64, error)
	UpdateAttendance(ctx context.Context, token string, serverID int64, a model.Attendance) error
	AppendHistory(ctx context.Context, token string, caseServerID int64, h model.CaseHistory) (int64, error)
	ListCases(ctx context.Context, token string) ([]model.Case, error)
	MyAttendance(ctx context.Context, token string) ([]model.Attendance, error)
}

// Stores groups the local repositories a cycle reads and writes.
type Stores struct {
	Cases      repository.CaseSync
	Attendance repository.AttendanceSync
	History    repository.HistorySync
	Queue      repository.QueueRepository
	Runs       repository.RunRepository
}

// Options tunes a cycle. Zero values fall back to the defaults.
type Options struct {
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Event is published after every finished cycle.
type Event struct {
	Kind   string               `json:"kind"`
	Push   *model.SyncSummary   `json:"push,omitempty"`
	Pull   *model.ImportSummary `json:"pull,omitempty"`
	Status model.SyncStatus     `json:"status"`
}

// Event kinds.
const (
	EventPushed = "sync.pushed"
	EventPulled = "sync.pulled"
)

// Engine runs push and pull cycles. At most one cycle runs at a time.
type Engine struct {
	remote   Remote
	st       Stores
	batch    int
	schedule repository.Schedule
	log      *zap.Logger
	now      func() time.Time

	syncing atomic.Bool

	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

// New constructs an engine.
func New(remote Remote, st Stores, opts Options, log *zap.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		remote:   remote,
		st:       st,
		batch:    opts.BatchSize,
		schedule: Backoff(opts.BaseDelay, opts.MaxDelay, opts.MaxRetries),
		log:      log,
		now:      time.Now,
		subs:     map[int]func(Event){},
	}
}

// Subscribe registers fn for cycle events and returns its cancel func.
func (e *Engine) Subscribe(fn func(Event)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	ev.Status, _ = e.Status(ctx)
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Syncing reports whether a cycle is running.
func (e *Engine) Syncing() bool { return e.syncing.Load() }

func (e *Engine) acquire() error {
	if !e.syncing.CompareAndSwap(false, true) {
		return errs.ErrSyncInProgress
	}
	return nil
}

func (e *Engine) release() { e.syncing.Store(false) }

// releaseOnPanic frees the gate if a cycle panics before its normal release.
func (e *Engine) releaseOnPanic() {
	if r := recover(); r != nil {
		e.release()
		panic(r)
	}
}

// cycle accumulates the outcome of one push.
type cycle struct {
	sum     model.SyncSummary
	aborted error
}

func (c *cycle) fail(table model.Table, id int64, number string, err error) {
	c.sum.Failed++
	c.sum.Errors = append(c.sum.Errors, model.RecordError{Table: table, RecordID: id, CaseNumber: number, Error: err.Error()})
}

// SyncNow pushes dirty records in table order. Record failures are counted
// in the summary and scheduled for retry; they never fail the call. A
// missing or expired session fails before any record is touched.
func (e *Engine) SyncNow(ctx context.Context, sess *session.Session) (model.SyncSummary, error) {
	if err := sess.Valid(); err != nil {
		return model.SyncSummary{}, err
	}
	if err := e.acquire(); err != nil {
		return model.SyncSummary{}, err
	}
	defer e.releaseOnPanic()

	// a started cycle runs to the end; each remote call has its own timeout
	ctx = context.WithoutCancel(ctx)
	started := e.now()
	c := &cycle{sum: model.SyncSummary{RunID: uuid.Must(uuid.NewV7())}}

	pushers := map[model.Table]func(context.Context, string, *cycle) error{
		model.TableCases:       e.pushCases,
		model.TableAttendance:  e.pushAttendance,
		model.TableCaseHistory: e.pushHistory,
	}
	for _, table := range model.PushOrder {
		if c.aborted != nil {
			break
		}
		if err := pushers[table](ctx, sess.Token, c); err != nil {
			c.sum.Errors = append(c.sum.Errors, model.RecordError{Table: table, Error: err.Error()})
			e.log.Warn("sync table", zap.String("table", string(table)), zap.Error(err))
		}
	}

	c.sum.Status = model.SyncSuccess
	if c.sum.Failed > 0 || c.aborted != nil {
		c.sum.Status = model.SyncFailed
	}
	c.sum.Timestamp = e.now()

	run := model.SyncRun{
		ID: c.sum.RunID, Direction: model.DirectionPush, StartedAt: started, FinishedAt: c.sum.Timestamp,
		Synced: c.sum.Synced, Failed: c.sum.Failed, Deferred: c.sum.Deferred,
		Status: c.sum.Status, Errors: c.sum.Errors,
	}
	if err := e.st.Runs.Save(ctx, run); err != nil {
		e.log.Error("save sync run", zap.Error(err))
	}
	e.log.Info("sync completed",
		zap.Stringer("run_id", c.sum.RunID), zap.Int("synced", c.sum.Synced), zap.Int("failed", c.sum.Failed),
		zap.Int("deferred", c.sum.Deferred), zap.Duration("took", c.sum.Timestamp.Sub(started)))

	e.release()
	sum := c.sum
	e.publish(ctx, Event{Kind: EventPushed, Push: &sum})
	return c.sum, nil
}

// handle classifies a push failure. An unauthenticated response stops the
// cycle without spending a retry. A constraint violation (the case number
// already exists on the server) is parked at once; the next pull links the
// record by case number and clears it. Anything else is queued for retry.
func (e *Engine) handle(ctx context.Context, c *cycle, table model.Table, id int64, number string, err error) {
	c.fail(table, id, number, err)
	if errors.Is(err, errs.ErrUnauthenticated) {
		c.aborted = err
		return
	}
	schedule := e.schedule
	if table == model.TableCases && errors.Is(err, errs.ErrConstraintViolation) {
		schedule = parkNow
	}
	q, qerr := e.st.Queue.Fail(ctx, table, id, err.Error(), schedule)
	if qerr != nil {
		e.log.Error("queue fail", zap.String("table", string(table)), zap.Int64("id", id), zap.Error(qerr))
		return
	}
	if q.Dead {
		e.log.Warn("record dead-lettered", zap.String("table", string(table)), zap.Int64("id", id),
			zap.Int("retries", q.RetryCount), zap.String("last_error", q.LastError))
	}
}

func (e *Engine) pushCases(ctx context.Context, token string, c *cycle) error {
	rows, err := e.st.Cases.Unsynced(ctx, e.batch, e.now())
	if err != nil {
		return fmt.Errorf("load unsynced cases: %w", err)
	}
	for _, r := range rows {
		if c.aborted != nil {
			return nil
		}
		sid, err := e.pushCase(ctx, token, r)
		if err != nil {
			e.handle(ctx, c, model.TableCases, r.ID, r.CaseNumber, err)
			continue
		}
		if err := e.st.Cases.MarkSynced(ctx, r.ID, sid, r.Rev); err != nil {
			c.fail(model.TableCases, r.ID, r.CaseNumber, err)
			continue
		}
		c.sum.Synced++
	}
	return nil
}

func (e *Engine) pushCase(ctx context.Context, token string, r model.Case) (int64, error) {
	if r.ServerID != nil {
		return *r.ServerID, e.remote.UpdateCase(ctx, token, *r.ServerID, r)
	}
	return e.remote.CreateCase(ctx, token, r)
}

func (e *Engine) pushAttendance(ctx context.Context, token string, c *cycle) error {
	rows, err := e.st.Attendance.Unsynced(ctx, e.batch, e.now())
	if err != nil {
		return fmt.Errorf("load unsynced attendance: %w", err)
	}
	for _, r := range rows {
		if c.aborted != nil {
			return nil
		}
		var sid int64
		if r.ServerID != nil {
			sid, err = *r.ServerID, e.remote.UpdateAttendance(ctx, token, *r.ServerID, r)
		} else {
			sid, err = e.remote.CreateAttendance(ctx, token, r)
		}
		if err != nil {
			e.handle(ctx, c, model.TableAttendance, r.ID, "", err)
			continue
		}
		if err := e.st.Attendance.MarkSynced(ctx, r.ID, sid, r.Rev); err != nil {
			c.fail(model.TableAttendance, r.ID, "", err)
			continue
		}
		c.sum.Synced++
	}
	return nil
}

func (e *Engine) pushHistory(ctx context.Context, token string, c *cycle) error {
	rows, err := e.st.History.Unsynced(ctx, e.batch, e.now())
	if err != nil {
		return fmt.Errorf("load unsynced history: %w", err)
	}
	for _, r := range rows {
		if c.aborted != nil {
			return nil
		}
		if r.CaseServerID == nil {
			// parent not pushed yet; retried next cycle
			c.sum.Deferred++
			continue
		}
		sid, err := e.remote.AppendHistory(ctx, token, *r.CaseServerID, r.Entry)
		if err != nil {
			e.handle(ctx, c, model.TableCaseHistory, r.Entry.ID, "", err)
			continue
		}
		if err := e.st.History.MarkSynced(ctx, r.Entry.ID, sid); err != nil {
			c.fail(model.TableCaseHistory, r.Entry.ID, "", err)
			continue
		}
		c.sum.Synced++
	}
	return nil
}

// DownloadFromServer pulls the remote cases and the session user's
// attendance and merges them into the local store. The remote version wins.
// A fetch failure fails the call; a record that cannot be merged is skipped.
func (e *Engine) DownloadFromServer(ctx context.Context, sess *session.Session) (model.ImportSummary, error) {
	if err := sess.Valid(); err != nil {
		return model.ImportSummary{}, err
	}
	if err := e.acquire(); err != nil {
		return model.ImportSummary{}, err
	}
	defer e.releaseOnPanic()

	ctx = context.WithoutCancel(ctx)
	started := e.now()
	sum := model.ImportSummary{RunID: uuid.Must(uuid.NewV7()), Status: model.SyncSuccess}

	err := e.pull(ctx, sess.Token, &sum)
	if err != nil {
		sum.Status = model.SyncFailed
		sum.SkippedRecords = append(sum.SkippedRecords, model.RecordError{Error: err.Error()})
	}
	sum.Timestamp = e.now()

	run := model.SyncRun{
		ID: sum.RunID, Direction: model.DirectionPull, StartedAt: started, FinishedAt: sum.Timestamp,
		Imported: sum.Imported + sum.AttendanceImported, Updated: sum.Updated + sum.AttendanceUpdated,
		Skipped: sum.Skipped, Status: sum.Status, Errors: sum.SkippedRecords,
	}
	if serr := e.st.Runs.Save(ctx, run); serr != nil {
		e.log.Error("save sync run", zap.Error(serr))
	}
	e.log.Info("import completed",
		zap.Stringer("run_id", sum.RunID), zap.Int("imported", sum.Imported), zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped), zap.Int("attendance_imported", sum.AttendanceImported),
		zap.Int("attendance_updated", sum.AttendanceUpdated))

	e.release()
	out := sum
	e.publish(ctx, Event{Kind: EventPulled, Pull: &out})
	return sum, err
}

func (e *Engine) pull(ctx context.Context, token string, sum *model.ImportSummary) error {
	cases, err := e.remote.ListCases(ctx, token)
	if err != nil {
		return fmt.Errorf("fetch cases: %w", err)
	}
	for _, rc := range cases {
		outcome, err := e.st.Cases.ApplyRemote(ctx, rc)
		if err != nil {
			sum.Skipped++
			sum.SkippedRecords = append(sum.SkippedRecords,
				model.RecordError{Table: model.TableCases, CaseNumber: rc.CaseNumber, Error: err.Error()})
			continue
		}
		if outcome == model.MergeInserted {
			sum.Imported++
		} else {
			sum.Updated++
		}
	}

	att, err := e.remote.MyAttendance(ctx, token)
	if err != nil {
		return fmt.Errorf("fetch attendance: %w", err)
	}
	for _, ra := range att {
		outcome, err := e.st.Attendance.ApplyRemote(ctx, ra)
		if err != nil {
			sum.Skipped++
			rec := model.RecordError{Table: model.TableAttendance, Error: err.Error()}
			if ra.ServerID != nil {
				rec.RecordID = *ra.ServerID
			}
			sum.SkippedRecords = append(sum.SkippedRecords, rec)
			continue
		}
		switch outcome {
		case model.MergeInserted:
			sum.AttendanceImported++
		case model.MergeKept:
			sum.AttendanceKept++
		default:
			sum.AttendanceUpdated++
		}
	}
	return nil
}

// Status reports the last push outcome and the size of the retry backlog.
// A successful last push with records still dirty reports pending.
func (e *Engine) Status(ctx context.Context) (model.SyncStatus, error) {
	out := model.SyncStatus{Status: model.SyncNever, IsSyncing: e.Syncing()}

	pending, dead, err := e.st.Queue.Pending(ctx)
	if err != nil {
		return out, fmt.Errorf("queue size: %w", err)
	}
	out.QueueSize, out.DeadLetters = pending, dead

	last, err := e.st.Runs.Last(ctx, model.DirectionPush)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return out, nil
	case err != nil:
		return out, fmt.Errorf("last run: %w", err)
	}
	at := last.FinishedAt
	out.LastSyncTime = &at
	out.Status = last.Status
	if out.Status == model.SyncSuccess && pending > 0 {
		out.Status = model.SyncPending
	}
	return out, nil
}

// History returns the most recent runs of both directions.
func (e *Engine) History(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.st.Runs.Recent(ctx, limit)
}
