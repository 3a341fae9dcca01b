package registry

import (
	"testing"
	"time"

	"github.com/conneroisu/wasmscope/internal/types"
)

// FuzzLifecycle drives a record through arbitrary sequences of watcher
// operations and checks that every stored state is reachable and that
// removal is reported exactly once per disappearance.
func FuzzLifecycle(f *testing.F) {
	f.Add("calc", []byte{0, 1, 3, 3, 0, 1})
	f.Add("nested/dir/comp", []byte{2, 2, 1, 3, 2})
	f.Add("", []byte{1})
	f.Add("../../../etc/passwd", []byte{0, 3, 0, 2, 3})

	f.Fuzz(func(t *testing.T, name string, ops []byte) {
		if name == "" || len(ops) > 256 {
			t.Skip()
		}
		registry := NewComponentRegistry()
		now := time.Now()
		announced := false

		for i, op := range ops {
			at := now.Add(time.Duration(i) * time.Second)
			switch op % 4 {
			case 0:
				if _, err := registry.MarkDiscovered(name, "/root/"+name, at); err != nil {
					t.Fatalf("discover: %v", err)
				}
			case 1:
				kind, _, err := registry.MarkAnalyzed(name, analysis(string(rune('a'+op%3))))
				if err != nil {
					t.Fatalf("analyze: %v", err)
				}
				if kind == types.ChangeAdded || kind == types.ChangeModified {
					announced = true
				}
			case 2:
				failure := types.AnalysisError{Kind: "malformed_section", Message: "bad", At: at}
				kind, _, err := registry.MarkFailed(name, "/root/"+name, failure, "h", at)
				if err != nil {
					t.Fatalf("fail: %v", err)
				}
				if kind == types.ChangeAnalysisFailed {
					announced = true
				}
			case 3:
				kind, _, err := registry.MarkStale(name, at)
				if err != nil {
					t.Fatalf("stale: %v", err)
				}
				if kind == types.ChangeRemoved {
					if !announced {
						t.Fatalf("removal reported for a record that was never announced")
					}
					announced = false
				}
			}

			if rec, err := registry.Get(name); err == nil {
				switch rec.State {
				case types.StateDiscovered, types.StateAnalyzed, types.StateAnalysisFailed, types.StateStale:
				default:
					t.Fatalf("unexpected state %q", rec.State)
				}
				if rec.FileExists == (rec.State == types.StateStale) {
					t.Fatalf("file_exists=%v in state %s", rec.FileExists, rec.State)
				}
			}
		}
	})
}
