package importer

import "time"

// ImportSession is the cross-request state of one in-flight import. It is
// owned exclusively by the Store: all mutation goes through Store.Transition
// under the session's lock, and callers only ever see clones.
type ImportSession struct {
	ID        string
	Owner     string
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time

	FileName string
	Header   []string
	RawRows  []RawRow

	Mapping     Mapping
	Rows        []Row
	Conflicts   []ConflictEntry
	Resolutions map[int]Resolution
	ErrorLog    []ValidationError

	Result *CommitResult
}

// fail moves the session to StateFailed and records the reason. Only called
// from inside a Transition mutation, where the failed state is swapped in
// atomically.
func (s *ImportSession) fail(reason string) {
	s.State = StateFailed
	s.ErrorLog = append(s.ErrorLog, ValidationError{Message: reason})
}

// clone returns a deep-enough copy for handing out: slices and maps are
// copied so callers cannot alias the stored session. Row values are shared,
// which is safe because Row is immutable.
func (s *ImportSession) clone() *ImportSession {
	out := *s

	out.Header = append([]string(nil), s.Header...)
	out.RawRows = append([]RawRow(nil), s.RawRows...)
	out.Rows = append([]Row(nil), s.Rows...)
	out.Conflicts = append([]ConflictEntry(nil), s.Conflicts...)
	out.ErrorLog = append([]ValidationError(nil), s.ErrorLog...)

	if s.Mapping != nil {
		out.Mapping = make(Mapping, len(s.Mapping))
		for k, v := range s.Mapping {
			out.Mapping[k] = v
		}
	}
	if s.Resolutions != nil {
		out.Resolutions = make(map[int]Resolution, len(s.Resolutions))
		for k, v := range s.Resolutions {
			out.Resolutions[k] = v
		}
	}
	if s.Result != nil {
		result := *s.Result
		out.Result = &result
	}

	return &out
}
