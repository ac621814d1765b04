package mcp

import (
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/syllabus/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"source", "artifact", "inventory", "plan"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"source_scan": {
		def:     sourceScanToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceScan },
	},
	"source_list": {
		def:     sourceListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceList },
	},
	"source_get": {
		def:     sourceGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceGet },
	},
	"source_mark": {
		def:     sourceMarkToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceMark },
	},
	"source_process": {
		def:     sourceProcessToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceProcess },
	},
	"artifact_register": {
		def:     artifactRegisterToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactRegister },
	},
	"artifact_list": {
		def:     artifactListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactList },
	},
	"artifact_invalidate": {
		def:     artifactInvalidateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactInvalidate },
	},
	"inventory_import": {
		def:     inventoryImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInventoryImport },
	},
	"inventory_show": {
		def:     inventoryShowToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInventoryShow },
	},
	"plan_analyze": {
		def:     planAnalyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanAnalyze },
	},
	"plan_create": {
		def:     planCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanCreate },
	},
	"plan_fetch": {
		def:     planFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanFetch },
	},
	"plan_verify": {
		def:     planVerifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanVerify },
	},
	"plan_history": {
		def:     planHistoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanHistory },
	},
	"plan_export": {
		def:     planExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanExport },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "plan_create" → "plan").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// NewServer creates a new MCP server with Syllabus tools registered.
// Tools listed in DisabledTools or belonging to DisabledTypes are excluded
// from registration.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"syllabus",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(env.Config.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range env.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env *ops.Env, version string) error {
	s := NewServer(env, version)
	return server.ServeStdio(s)
}

