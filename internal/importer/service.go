package importer

// service.go is the caller-facing step API. Each method is one complete
// request/response step of the pipeline; the session identifier carries the
// state between them.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rosterflow/rosterflow/internal/roster"
)

// DefaultCommitTimeout bounds the atomic write at the final step. A commit
// that cannot finish in time is rolled back and the session fails.
const DefaultCommitTimeout = time.Minute

// DefaultPreviewRows is how many data rows StartImport echoes back.
const DefaultPreviewRows = 5

// Options tunes a Service. Zero values use the package defaults.
type Options struct {
	MaxFileSize         int64
	MaxRows             int
	SimilarityThreshold float64
	CommitTimeout       time.Duration
	PreviewRows         int
	MaxConcurrent       int
	SlotWait            time.Duration
}

// Service drives import sessions through the pipeline. Safe for concurrent
// use; steps on distinct sessions run independently, steps on the same
// session are serialized by the Store.
type Service struct {
	store   *Store
	roster  roster.Roster
	limiter *SessionLimiter
	opts    Options
}

// NewService wires the pipeline together. The store's eviction hook is
// claimed to release the concurrency slot of stalled sessions.
func NewService(r roster.Roster, store *Store, opts Options) *Service {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = DefaultCommitTimeout
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = DefaultPreviewRows
	}
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}

	s := &Service{
		store:   store,
		roster:  r,
		limiter: NewSessionLimiter(opts.MaxConcurrent, opts.SlotWait),
		opts:    opts,
	}
	store.OnEvict = func(sess *ImportSession) {
		slog.Info("import session evicted", "session_id", sess.ID, "state", sess.State)
		s.limiter.Release()
	}
	return s
}

// StartImport parses the upload, creates a session in StateUploaded and
// returns the header plus a short preview so the client can build a column
// mapping. Structural line errors are reported, not fatal; only an
// unrecoverable file fails the call, in which case no session exists.
func (s *Service) StartImport(ctx context.Context, owner, fileName string, raw []byte) (*StartResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	parsed, err := ParseCSV(raw, ParseOptions{MaxBytes: s.opts.MaxFileSize, MaxRows: s.opts.MaxRows})
	if err != nil {
		s.limiter.Release()
		return nil, err
	}

	sess := &ImportSession{
		ID:       uuid.NewString(),
		Owner:    owner,
		State:    StateUploaded,
		FileName: fileName,
		Header:   parsed.Header,
		RawRows:  parsed.Rows,
	}
	for _, le := range parsed.Errors {
		sess.ErrorLog = append(sess.ErrorLog, ValidationError{Line: le.Line, Message: le.Reason})
	}

	if err := s.store.Create(sess); err != nil {
		s.limiter.Release()
		return nil, err
	}

	preview := make([][]string, 0, s.opts.PreviewRows)
	for _, row := range parsed.Rows {
		if len(preview) == s.opts.PreviewRows {
			break
		}
		preview = append(preview, row.Cells)
	}

	slog.Info("import session started",
		"session_id", sess.ID,
		"file", fileName,
		"rows", len(parsed.Rows),
		"line_errors", len(parsed.Errors),
	)

	return &StartResult{
		SessionID:  sess.ID,
		FileName:   fileName,
		Header:     parsed.Header,
		TotalRows:  len(parsed.Rows),
		Preview:    preview,
		LineErrors: parsed.Errors,
	}, nil
}

// SubmitMapping validates and applies the column mapping, re-validates every
// row against it, then runs conflict detection against a fresh roster
// snapshot. On success the session is in StateConflictsDetected and the
// detected conflicts are returned. A bad mapping leaves the session in
// StateUploaded for a corrected resubmission.
func (s *Service) SubmitMapping(ctx context.Context, id string, m Mapping) ([]ConflictEntry, error) {
	err := s.store.Transition(id, StateUploaded, func(sess *ImportSession) error {
		if err := m.Validate(sess.Header); err != nil {
			return err
		}
		rows, errs := applyMapping(sess.RawRows, sess.Header, m)
		sess.Mapping = m
		sess.Rows = rows
		sess.ErrorLog = append(sess.ErrorLog, errs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var conflicts []ConflictEntry
	err = s.store.Transition(id, StateMapped, func(sess *ImportSession) error {
		snapshot, err := s.roster.SnapshotByClass(ctx, snapshotKeys(sess.Rows))
		if err != nil {
			sess.fail(fmt.Sprintf("roster snapshot: %v", err))
			return err
		}
		sess.Conflicts = Detect(sess.Rows, snapshot, s.opts.SimilarityThreshold)
		conflicts = sess.Conflicts
		return nil
	})
	if err != nil {
		// A snapshot failure fails the session, which is terminal: give
		// its concurrency slot back.
		if sess, gerr := s.store.Get(id); gerr == nil && sess.State == StateFailed {
			s.limiter.Release()
		}
		return nil, err
	}

	slog.Info("conflict detection complete",
		"session_id", id,
		"rows", len(conflicts),
		"unresolved", countUnresolved(conflicts),
	)
	return conflicts, nil
}

// SubmitResolutions records the client's decisions. Every row not classified
// new must have one; the session then advances to StateResolved.
func (s *Service) SubmitResolutions(ctx context.Context, id string, resolutions map[int]Resolution) error {
	_ = ctx
	return s.store.Transition(id, StateConflictsDetected, func(sess *ImportSession) error {
		if err := validateResolutions(sess, resolutions); err != nil {
			return err
		}
		sess.Resolutions = make(map[int]Resolution, len(resolutions))
		for k, v := range resolutions {
			sess.Resolutions[k] = v
		}
		return nil
	})
}

// CommitImport applies the resolved session to the roster as one atomic
// transaction. On success the session ends in StateImported; on a
// persistence failure it ends in StateFailed with the reason logged, and
// nothing was written. Commit failures are never retried automatically.
func (s *Service) CommitImport(ctx context.Context, id string) (CommitResult, error) {
	commitCtx, cancel := context.WithTimeout(ctx, s.opts.CommitTimeout)
	defer cancel()

	var result CommitResult
	err := s.store.Transition(id, StateResolved, func(sess *ImportSession) error {
		res, err := commitSession(commitCtx, sess, s.roster)
		if err != nil {
			sess.fail(err.Error())
			return err
		}
		sess.Result = &res
		result = res
		return nil
	})

	if err == nil {
		slog.Info("import committed",
			"session_id", id,
			"inserted", result.Inserted,
			"updated", result.Updated,
			"skipped", result.Skipped,
		)
		s.limiter.Release()
		return result, nil
	}

	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		// The session reached StateFailed, which is terminal: its
		// concurrency slot is done.
		slog.Error("import commit failed", "session_id", id, "error", err)
		s.limiter.Release()
	}
	return CommitResult{}, err
}

// Status returns the externally visible snapshot of a session.
func (s *Service) Status(_ context.Context, id string) (*StatusInfo, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		SessionID: sess.ID,
		State:     sess.State,
		FileName:  sess.FileName,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
		TotalRows: len(sess.RawRows),
		Conflicts: sess.Conflicts,
		ErrorLog:  sess.ErrorLog,
		Result:    sess.Result,
	}, nil
}

// ActiveSessions reports how many sessions currently hold a limiter slot.
func (s *Service) ActiveSessions() int {
	return s.limiter.Active()
}

// Drain waits for all in-flight sessions to finish, for graceful shutdown.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func countUnresolved(entries []ConflictEntry) int {
	n := 0
	for _, e := range entries {
		if e.Classification != ClassNew {
			n++
		}
	}
	return n
}
