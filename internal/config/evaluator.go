package config

// EvaluatorConfig tunes flag evaluation.
type EvaluatorConfig struct {
	// MaxDependencyDepth bounds flag-on-flag recursion.
	MaxDependencyDepth int `envconfig:"MAX_DEPENDENCY_DEPTH" default:"10" validate:"min=1,max=100"`
}
