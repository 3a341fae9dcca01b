// Package types provides common type definitions used throughout wasmscope.
// This package contains shared types to avoid circular dependencies between packages.
package types

import "time"

// ComponentState is the lifecycle state of a ComponentRecord.
type ComponentState string

const (
	// StateDiscovered marks a file that has been seen but not yet analyzed.
	StateDiscovered ComponentState = "discovered"
	// StateAnalyzed marks a record whose last decode succeeded.
	StateAnalyzed ComponentState = "analyzed"
	// StateAnalysisFailed marks a record whose last decode failed.
	StateAnalysisFailed ComponentState = "analysis_failed"
	// StateStale marks a record whose backing file has disappeared.
	StateStale ComponentState = "stale"
)

// CanTransition reports whether a record in state s may move to next.
// The empty state stands for "no record yet".
func (s ComponentState) CanTransition(next ComponentState) bool {
	switch s {
	case "":
		return next == StateDiscovered || next == StateAnalyzed || next == StateAnalysisFailed
	case StateDiscovered:
		return next == StateDiscovered || next == StateAnalyzed || next == StateAnalysisFailed
	case StateAnalyzed, StateAnalysisFailed:
		return next == StateAnalyzed || next == StateAnalysisFailed || next == StateStale
	case StateStale:
		return next == StateDiscovered || next == StateAnalyzed || next == StateAnalysisFailed
	}
	return false
}

// Direction tells whether an interface is required or provided.
type Direction string

const (
	DirectionImport Direction = "import"
	DirectionExport Direction = "export"
)

// ComponentRecord is the registry's view of one WebAssembly binary on disk,
// including its decoded interface surface and lifecycle bookkeeping.
type ComponentRecord struct {
	// Name is the logical identifier, derived from the path relative to the watch root
	Name string `json:"name" yaml:"name"`
	// Path is the absolute path of the backing .wasm file
	Path string `json:"path" yaml:"path"`
	// Description is a human-readable summary, from producers metadata or the name
	Description string `json:"description" yaml:"description"`
	// State is the lifecycle state of the record
	State ComponentState `json:"state" yaml:"state"`
	// FileExists reports whether the backing file was present at the last check
	FileExists bool `json:"file_exists" yaml:"file_exists"`
	// LastSeen is when the file was last observed on disk
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
	// RemovedAt is when the file was observed missing; nil while it exists
	RemovedAt *time.Time `json:"removed_at,omitempty" yaml:"removed_at,omitempty"`
	// Interfaces is the ordered, flattened list of imports and exports
	Interfaces []InterfaceDescriptor `json:"interfaces" yaml:"interfaces"`
	// Dependencies lists the packages or modules this binary imports from
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	// Metadata carries producers information, custom section names and file facts
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// WIT is the rendered interface-definition text of the binary
	WIT string `json:"wit,omitempty" yaml:"wit,omitempty"`
	// Error is the last analysis failure, present only in StateAnalysisFailed
	Error *AnalysisError `json:"error,omitempty" yaml:"error,omitempty"`
	// FileHash is a CRC32 checksum of the bytes that were last decoded
	FileHash string `json:"file_hash,omitempty" yaml:"file_hash,omitempty"`
	// ContentDigest fingerprints the decoded interface graph for change detection
	ContentDigest string `json:"content_digest,omitempty" yaml:"content_digest,omitempty"`
	// Size is the file size in bytes at the last decode
	Size int64 `json:"size" yaml:"size"`
	// Version increases by one on every stored mutation
	Version uint64 `json:"version" yaml:"version"`
}

// InterfaceDescriptor is one imported or exported interface.
type InterfaceDescriptor struct {
	// Name is the interface name without version, e.g. "wasi:io/streams".
	// Bare functions and types attached to the world use "$root".
	Name      string              `json:"name" yaml:"name"`
	Direction Direction           `json:"direction" yaml:"direction"`
	Package   string              `json:"package,omitempty" yaml:"package,omitempty"`
	Version   string              `json:"version,omitempty" yaml:"version,omitempty"`
	Functions []FunctionSignature `json:"functions" yaml:"functions"`
	Types     []TypeDef           `json:"types" yaml:"types"`
}

// FunctionSignature describes a function exposed through an interface.
type FunctionSignature struct {
	Name    string  `json:"name" yaml:"name"`
	Params  []Param `json:"params" yaml:"params"`
	Results []Param `json:"results" yaml:"results"`
}

// Param is a named, typed parameter or result.
type Param struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TypeDef is a named type declared by an interface.
type TypeDef struct {
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	Definition string `json:"definition" yaml:"definition"`
}

// AnalysisError records why a decode failed.
type AnalysisError struct {
	Kind    string    `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
	At      time.Time `json:"at" yaml:"at"`
}

// ComponentSummary is the condensed listing view of a record.
type ComponentSummary struct {
	Name        string         `json:"name" yaml:"name"`
	Path        string         `json:"path" yaml:"path"`
	State       ComponentState `json:"state" yaml:"state"`
	FileExists  bool           `json:"file_exists" yaml:"file_exists"`
	Imports     int            `json:"imports" yaml:"imports"`
	Exports     int            `json:"exports" yaml:"exports"`
	Functions   int            `json:"functions" yaml:"functions"`
	LastSeen    time.Time      `json:"last_seen" yaml:"last_seen"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// Summary condenses the record for listings.
func (c *ComponentRecord) Summary() ComponentSummary {
	s := ComponentSummary{
		Name:        c.Name,
		Path:        c.Path,
		State:       c.State,
		FileExists:  c.FileExists,
		LastSeen:    c.LastSeen,
		Description: c.Description,
	}
	for _, iface := range c.Interfaces {
		if iface.Direction == DirectionImport {
			s.Imports++
		} else {
			s.Exports++
		}
		s.Functions += len(iface.Functions)
	}
	return s
}

// Clone returns a deep copy that shares no mutable state with c.
func (c *ComponentRecord) Clone() *ComponentRecord {
	if c == nil {
		return nil
	}
	out := *c
	if c.RemovedAt != nil {
		t := *c.RemovedAt
		out.RemovedAt = &t
	}
	if c.Error != nil {
		e := *c.Error
		out.Error = &e
	}
	out.Interfaces = CloneInterfaces(c.Interfaces)
	if c.Dependencies != nil {
		out.Dependencies = append([]string(nil), c.Dependencies...)
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CloneInterfaces deep-copies a descriptor list.
func CloneInterfaces(in []InterfaceDescriptor) []InterfaceDescriptor {
	if in == nil {
		return nil
	}
	out := make([]InterfaceDescriptor, len(in))
	for i, d := range in {
		out[i] = d
		if d.Functions != nil {
			out[i].Functions = make([]FunctionSignature, len(d.Functions))
			for j, f := range d.Functions {
				out[i].Functions[j] = FunctionSignature{
					Name:    f.Name,
					Params:  cloneParams(f.Params),
					Results: cloneParams(f.Results),
				}
			}
		}
		if d.Types != nil {
			out[i].Types = append(make([]TypeDef, 0, len(d.Types)), d.Types...)
		}
	}
	return out
}

func cloneParams(in []Param) []Param {
	if in == nil {
		return nil
	}
	return append(make([]Param, 0, len(in)), in...)
}

// ChangeKind classifies a ChangeEvent.
type ChangeKind string

const (
	ChangeAdded          ChangeKind = "added"
	ChangeModified       ChangeKind = "modified"
	ChangeRemoved        ChangeKind = "removed"
	ChangeAnalysisFailed ChangeKind = "analysis_failed"
)

// ChangeEvent is published on the bus for every observable record transition.
type ChangeEvent struct {
	// Kind indicates the kind of change
	Kind ChangeKind `json:"kind" yaml:"kind"`
	// Name is the logical name of the affected component
	Name string `json:"component_name" yaml:"component_name"`
	// Record is a snapshot of the record after the change
	Record *ComponentRecord `json:"record_snapshot,omitempty" yaml:"record_snapshot,omitempty"`
	// Timestamp records when the change was applied
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}
