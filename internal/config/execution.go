package config

// ExecutionConfig configures how the external structural parser is run.
type ExecutionConfig struct {
	// FigmaCLI overrides discovery with an explicit path to the figma binary.
	FigmaCLI string `yaml:"figma_cli" json:"figma_cli,omitempty"`

	// ProjectRoot is searched for node_modules/.bin/figma. Defaults to the workspace.
	ProjectRoot string `yaml:"project_root" json:"project_root,omitempty"`

	// ParseTimeout bounds one "figma connect parse" invocation.
	ParseTimeout string `yaml:"parse_timeout" json:"parse_timeout,omitempty"`

	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`

	// AllowedEnvVars are passed through to the parser process.
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`
}
