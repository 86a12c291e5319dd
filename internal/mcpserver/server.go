// Package mcpserver exposes Tier 1 and Tier 2 validation as MCP tools so an
// external agent acting as the generator can check its own mappings.
package mcpserver

import (
	"context"
	"fmt"
	"path/filepath"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mapgen/internal/evidence"
	"mapgen/internal/logging"
	"mapgen/internal/mapping/feedback"
)

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	root           string
	structural     feedback.StructuralChecker
	defaultProfile feedback.TargetProfile
	logger         *zap.Logger
}

// NewServer registers the mapgen tools. Relative evidence paths resolve
// against root. structural may be nil, in which case only tier 1 runs.
func NewServer(version, root string, structural feedback.StructuralChecker, profile feedback.TargetProfile, logger *zap.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		root:           root,
		structural:     structural,
		defaultProfile: profile,
		logger:         logging.For(logger, logging.CategoryMCP),
	}
	s.MCPServer = sdkmcp.NewServer(&sdkmcp.Implementation{Name: "mapgen", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting on stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "validate_mapping",
		Description: "Validate a Code Connect mapping against a component's evidence. Runs the key-set check and, unless tier1_only is set, the structural parser.",
	}, s.handleValidateMapping)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_keys",
		Description: "List the property, variant and layer names each figma helper may reference for a component.",
	}, s.handleListKeys)
}

// --- Tool input/output types ---

type validateMappingInput struct {
	EvidencePath string `json:"evidence_path" jsonschema:"path to the evidence file (yaml or json)"`
	Component    string `json:"component,omitempty" jsonschema:"component name or ID when the file holds several"`
	Artifact     string `json:"artifact" jsonschema:"mapping source text to check"`
	Profile      string `json:"profile,omitempty" jsonschema:"target profile (react or html)"`
	Tier1Only    bool   `json:"tier1_only,omitempty" jsonschema:"skip the structural parser"`
}

type validateMappingOutput struct {
	Component string                     `json:"component"`
	Valid     bool                       `json:"valid"`
	Tier1     feedback.ValidationResult  `json:"tier1"`
	Tier2     *feedback.ValidationResult `json:"tier2,omitempty"`
	Errors    []string                   `json:"errors,omitempty"`
}

type listKeysInput struct {
	EvidencePath string `json:"evidence_path" jsonschema:"path to the evidence file (yaml or json)"`
	Component    string `json:"component,omitempty" jsonschema:"component name or ID when the file holds several"`
}

type listKeysOutput struct {
	Component string              `json:"component"`
	Keys      map[string][]string `json:"keys"`
	Summary   string              `json:"summary"`
}

// --- Tool handlers ---

func (s *Server) handleValidateMapping(ctx context.Context, _ *sdkmcp.CallToolRequest, input validateMappingInput) (*sdkmcp.CallToolResult, validateMappingOutput, error) {
	ev, err := s.loadComponent(input.EvidencePath, input.Component)
	if err != nil {
		return nil, validateMappingOutput{}, err
	}
	profile := s.defaultProfile
	if input.Profile != "" {
		if profile, err = feedback.ParseProfile(input.Profile); err != nil {
			return nil, validateMappingOutput{}, err
		}
	}

	loop := feedback.NewLoop(profile, s.structural, s.logger)
	report, err := loop.ValidateArtifact(ctx, ev, input.Artifact, input.Tier1Only)
	if err != nil {
		return nil, validateMappingOutput{}, fmt.Errorf("validate %s: %w", ev.ComponentName, err)
	}

	s.logger.Debug("validate_mapping",
		zap.String("component", ev.ComponentName),
		zap.Bool("valid", report.Valid()),
		zap.Int("errors", len(report.Errors())))

	return nil, validateMappingOutput{
		Component: ev.ComponentName,
		Valid:     report.Valid(),
		Tier1:     report.Tier1,
		Tier2:     report.Tier2,
		Errors:    report.Errors(),
	}, nil
}

func (s *Server) handleListKeys(_ context.Context, _ *sdkmcp.CallToolRequest, input listKeysInput) (*sdkmcp.CallToolResult, listKeysOutput, error) {
	ev, err := s.loadComponent(input.EvidencePath, input.Component)
	if err != nil {
		return nil, listKeysOutput{}, err
	}
	ks := feedback.BuildKeySets(ev)
	keys := make(map[string][]string, len(feedback.CheckedHelperKinds))
	for _, kind := range feedback.CheckedHelperKinds {
		set, _ := ks.Allowed(kind)
		keys[kind.Method()] = set.Names()
	}
	return nil, listKeysOutput{
		Component: ev.ComponentName,
		Keys:      keys,
		Summary:   ks.Describe(),
	}, nil
}

func (s *Server) loadComponent(path, component string) (*evidence.Evidence, error) {
	if path == "" {
		return nil, fmt.Errorf("evidence_path is required")
	}
	if s.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	evs, err := evidence.Load(path)
	if err != nil {
		return nil, err
	}
	return evidence.Select(evs, component)
}
