package registry

import (
	"time"

	"github.com/conneroisu/wasmscope/internal/types"
)

// Analysis is the outcome of a successful decode, ready to be stored.
type Analysis struct {
	Path          string
	Description   string
	Interfaces    []types.InterfaceDescriptor
	Dependencies  []string
	Metadata      map[string]string
	WIT           string
	FileHash      string
	ContentDigest string
	Size          int64
	SeenAt        time.Time
}

// MarkDiscovered records that a file exists and is about to be analyzed.
// Only unknown and stale records move to the discovered state; a record
// that is already live keeps its state while it is re-analyzed.
func (r *ComponentRegistry) MarkDiscovered(name, path string, now time.Time) (*types.ComponentRecord, error) {
	rec, _, err := r.Update(name, func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		if cur != nil && cur.State != types.StateStale {
			return nil, nil
		}
		if cur == nil {
			cur = &types.ComponentRecord{Name: name}
		}
		cur.Path = path
		cur.State = types.StateDiscovered
		cur.FileExists = true
		cur.LastSeen = now
		cur.RemovedAt = nil
		return cur, nil
	})
	return rec, err
}

// MarkAnalyzed stores a successful analysis and reports which change, if
// any, subscribers should hear about. A record that was never announced
// (unknown, discovered or stale) yields ChangeAdded; one whose content
// digest differs, or that leaves the failed state, yields ChangeModified.
// Identical content yields an empty kind.
func (r *ComponentRegistry) MarkAnalyzed(name string, a Analysis) (types.ChangeKind, *types.ComponentRecord, error) {
	var kind types.ChangeKind
	rec, _, err := r.Update(name, func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		kind = ""
		switch {
		case cur == nil, cur.State == types.StateDiscovered, cur.State == types.StateStale:
			kind = types.ChangeAdded
		case cur.State == types.StateAnalysisFailed:
			kind = types.ChangeModified
		case cur.ContentDigest != a.ContentDigest:
			kind = types.ChangeModified
		}

		next := &types.ComponentRecord{
			Name:          name,
			Path:          a.Path,
			Description:   a.Description,
			State:         types.StateAnalyzed,
			FileExists:    true,
			LastSeen:      a.SeenAt,
			Interfaces:    types.CloneInterfaces(a.Interfaces),
			Dependencies:  append([]string{}, a.Dependencies...),
			Metadata:      a.Metadata,
			WIT:           a.WIT,
			FileHash:      a.FileHash,
			ContentDigest: a.ContentDigest,
			Size:          a.Size,
		}
		if kind == "" && sameContent(cur, next) {
			return nil, nil
		}
		return next, nil
	})
	if err != nil {
		return "", nil, err
	}
	return kind, rec, nil
}

// MarkFailed records a failed analysis. Interfaces decoded by an earlier
// successful analysis are kept. ChangeAnalysisFailed is reported unless the
// record already failed with the same error for the same file bytes.
func (r *ComponentRegistry) MarkFailed(name, path string, failure types.AnalysisError, fileHash string, now time.Time) (types.ChangeKind, *types.ComponentRecord, error) {
	var kind types.ChangeKind
	rec, _, err := r.Update(name, func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		kind = ""
		if cur != nil && cur.State == types.StateAnalysisFailed && cur.FileHash == fileHash &&
			cur.Error != nil && cur.Error.Kind == failure.Kind && cur.Error.Message == failure.Message {
			return nil, nil
		}
		if cur == nil {
			cur = &types.ComponentRecord{Name: name}
		}
		if cur.Interfaces == nil {
			cur.Interfaces = []types.InterfaceDescriptor{}
		}
		if cur.Dependencies == nil {
			cur.Dependencies = []string{}
		}
		e := failure
		cur.Path = path
		cur.State = types.StateAnalysisFailed
		cur.FileExists = true
		cur.RemovedAt = nil
		cur.LastSeen = now
		cur.Error = &e
		cur.FileHash = fileHash
		kind = types.ChangeAnalysisFailed
		return cur, nil
	})
	if err != nil {
		return "", nil, err
	}
	return kind, rec, nil
}

// MarkStale records that the backing file is gone. ChangeRemoved is
// reported once per disappearance; an unknown or already stale record
// yields an empty kind. A record that was discovered but never analyzed was
// never announced, so it is dropped instead of kept as a tombstone.
func (r *ComponentRegistry) MarkStale(name string, now time.Time) (types.ChangeKind, *types.ComponentRecord, error) {
	if r.DiscardPending(name) {
		return "", nil, nil
	}
	var kind types.ChangeKind
	rec, _, err := r.Update(name, func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		kind = ""
		// A discovery that raced in after DiscardPending is settled by its
		// own analysis.
		if cur == nil || cur.State == types.StateStale || cur.State == types.StateDiscovered {
			return nil, nil
		}
		removedAt := now
		cur.State = types.StateStale
		cur.FileExists = false
		cur.RemovedAt = &removedAt
		kind = types.ChangeRemoved
		return cur, nil
	})
	if err != nil {
		return "", nil, err
	}
	return kind, rec, nil
}

// DiscardPending drops name if it is still in the discovered state, and
// reports whether it did. No event is due: the record was never announced.
func (r *ComponentRegistry) DiscardPending(name string) bool {
	return r.purge(name, func(rec *types.ComponentRecord) bool {
		return rec.State == types.StateDiscovered
	})
}
