package domain

import "fmt"

type Stage string

const (
	StageDetect     Stage = "detect"
	StageDeepSearch Stage = "deep_search"
	StageWriter     Stage = "writer"
)

// Stages lists the backend pipeline phases in execution order.
var Stages = []Stage{StageDetect, StageDeepSearch, StageWriter}

// StageFlags marks which pipeline phases have finished for one request.
type StageFlags struct {
	Detect     bool `json:"detect"`
	DeepSearch bool `json:"deep_search"`
	Writer     bool `json:"writer"`
}

// DeriveStages infers pipeline progress from the shape of a report snapshot.
// The pipeline is sequential, so a finished later stage implies the earlier ones.
func DeriveStages(report TaskReport) StageFlags {
	flags := StageFlags{
		Detect:     hasValue(report.Detection),
		DeepSearch: report.FinalReport.HasDeepSearch(),
		Writer:     report.IsTerminal(),
	}
	if flags.Writer {
		flags.DeepSearch = true
	}
	if flags.DeepSearch {
		flags.Detect = true
	}
	return flags
}

func (f StageFlags) Done(stage Stage) bool {
	switch stage {
	case StageDetect:
		return f.Detect
	case StageDeepSearch:
		return f.DeepSearch
	case StageWriter:
		return f.Writer
	default:
		return false
	}
}

// Completed counts finished stages.
func (f StageFlags) Completed() int {
	n := 0
	for _, stage := range Stages {
		if f.Done(stage) {
			n++
		}
	}
	return n
}

// RegressionFrom returns the first stage that was done in prev but is no longer done in f.
func (f StageFlags) RegressionFrom(prev StageFlags) (Stage, bool) {
	for _, stage := range Stages {
		if prev.Done(stage) && !f.Done(stage) {
			return stage, true
		}
	}
	return "", false
}

func (f StageFlags) String() string {
	return fmt.Sprintf("detect=%t deep_search=%t writer=%t", f.Detect, f.DeepSearch, f.Writer)
}
