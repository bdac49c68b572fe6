package model

import "time"

// ClassificationSource tags which stage decided a folder or file's outcome.
type ClassificationSource string

// Classification source constants.
const (
	SourceRuleFinal  ClassificationSource = "rule-final"
	SourceRuleHintAI ClassificationSource = "rule-hint-ai"
	SourceAI         ClassificationSource = "ai"
	SourceInherited  ClassificationSource = "inherited"
	SourceDefault    ClassificationSource = "default"
)

// Classification is the outcome of running a file or folder through the
// classifier chain: a category path plus provenance.
type Classification struct {
	CategoryPath string
	Source       ClassificationSource
	Confidence   float64
}

// FileRecord describes a single file discovered by the Scanner, enriched
// by the Probe and Hasher, and finally classified by the Classifier Chain.
// Read-only once Classification is set.
type FileRecord struct {
	Path           string // absolute POSIX path, normalized
	FolderPath     string // parent folder's absolute path
	Mime           string
	ContentHash    string // lazily populated by the Hasher
	Metadata       map[string]string
	Size           int64
	ModTime        time.Time
	Classification *Classification
}

// FolderRecord describes a directory discovered by the Scanner. Created at
// scan time, hashed post-scan, classified exactly once in depth-ascending
// order, frozen before the Planner runs.
type FolderRecord struct {
	Path           string // absolute POSIX path, normalized
	ParentPath     string
	Depth          int
	FileCount      int
	SubfolderCount int
	AggregateHash  string
	Action         FolderAction
	Source         ClassificationSource
	CategoryPath   string
	Metadata       map[string]string
}

// IsClassified reports whether the folder has left model.ActionUnknown.
func (f *FolderRecord) IsClassified() bool {
	return f.Action != "" && f.Action != ActionUnknown
}

// DuplicateGroup is a set of records (files or folders, identified by path)
// that share an aggregate content hash, with a canonical representative.
type DuplicateGroup struct {
	ID            string
	AggregateHash string
	Canonical     string   // path of the canonical representative
	Members       []string // all member paths, including Canonical
}

// PlanOperation is the action a PlanEntry instructs the (external) mover
// to take.
type PlanOperation string

// Plan operation constants.
const (
	OpPlace         PlanOperation = "place"
	OpSkipDuplicate PlanOperation = "skip-duplicate"
	OpKeepUnit      PlanOperation = "keep-unit"
)

// PlanEntry is one row of the system's output: a source path mapped to a
// target path, with the operation kind and the decision that produced it.
type PlanEntry struct {
	ID                string
	SourcePath        string
	TargetPath        string
	Operation         PlanOperation
	DuplicateOf       string // set when Operation == OpSkipDuplicate
	OriginatingSource ClassificationSource
}
