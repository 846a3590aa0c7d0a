package model

// StepInfo describes a registered step to pipeline features.
type StepInfo struct {
	Name             string
	Index            int
	DependsOn        []string
	ExcludeByDefault bool
}
