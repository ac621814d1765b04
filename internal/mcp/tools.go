package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Argument names match the json tags of the request
// structs in handlers.go.

var sourceScanToolDef = mcp.NewTool("source_scan",
	mcp.WithDescription("Walk a source directory, fingerprint every file and record added, changed and removed sources. Changed and removed sources invalidate everything derived from them."),
	mcp.WithString("root", mcp.Description("Directory to scan. Defaults to the root of the previous scan.")),
)

var sourceListToolDef = mcp.NewTool("source_list",
	mcp.WithDescription("List tracked sources with their status and derived artifacts."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("new", "processed", "stale", "error")),
	mcp.WithBoolean("include_missing", mcp.Description("Include sources whose file disappeared")),
)

var sourceGetToolDef = mcp.NewTool("source_get",
	mcp.WithDescription("Fetch one source by ID."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Source ID")),
)

var sourceMarkToolDef = mcp.NewTool("source_mark",
	mcp.WithDescription("Record a processing result for a source: processed (with the fingerprint it was computed from), failed, or a classification label."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Source ID")),
	mcp.WithString("action", mcp.Required(), mcp.Enum("processed", "failed", "classify")),
	mcp.WithString("fingerprint", mcp.Description("Fingerprint the result was computed from (processed)")),
	mcp.WithString("detail", mcp.Description("Failure detail (failed)")),
	mcp.WithString("label", mcp.Description("Classification label (classify)"),
		mcp.Enum("textbook", "exam_overview", "syllabus", "lecture_notes", "practice_exam", "other", "unknown")),
)

var sourceProcessToolDef = mcp.NewTool("source_process",
	mcp.WithDescription("Run the built-in text processor over new and stale sources, registering extracted_text artifacts."),
	mcp.WithArray("ids", mcp.Description("Restrict processing to these source IDs"), mcp.WithStringItems()),
	mcp.WithBoolean("retry", mcp.Description("Also retry sources in error status")),
)

var artifactRegisterToolDef = mcp.NewTool("artifact_register",
	mcp.WithDescription("Register a derived artifact owned by sources and built from upstream artifacts. Registering the same kind, owners and subject again updates it in place and invalidates its dependents."),
	mcp.WithString("kind", mcp.Required(),
		mcp.Enum("extracted_text", "classification", "chapter_structure", "chunk_set", "coverage", "enrichment")),
	mcp.WithArray("owners", mcp.Description("Owning source IDs"), mcp.WithStringItems()),
	mcp.WithArray("inputs", mcp.Description("Upstream artifact IDs"), mcp.WithStringItems()),
	mcp.WithString("subject", mcp.Description("Discriminator when one source set owns several artifacts of a kind")),
	mcp.WithString("location", mcp.Description("Where the artifact content lives")),
)

var artifactListToolDef = mcp.NewTool("artifact_list",
	mcp.WithDescription("List artifacts with their effective freshness."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("kind", mcp.Description("Filter by kind")),
	mcp.WithString("source_id", mcp.Description("Filter by owning source")),
	mcp.WithString("subject", mcp.Description("Filter by subject")),
	mcp.WithBoolean("stale_only", mcp.Description("Only artifacts flagged stale")),
)

var artifactInvalidateToolDef = mcp.NewTool("artifact_invalidate",
	mcp.WithDescription("Mark everything reachable from a source or artifact stale and retire plans built on it."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Source or artifact ID")),
	mcp.WithString("reason", mcp.Description("Reason recorded on invalidated artifacts (default: manual)")),
)

var inventoryImportToolDef = mcp.NewTool("inventory_import",
	mcp.WithDescription("Import exams and topics from a YAML document, given as a file path or inline."),
	mcp.WithString("path", mcp.Description("YAML file path")),
	mcp.WithString("yaml", mcp.Description("Inline YAML document")),
	mcp.WithBoolean("prune", mcp.Description("Remove stored exams the document no longer lists")),
)

var inventoryShowToolDef = mcp.NewTool("inventory_show",
	mcp.WithDescription("Show the current topic inventory snapshot: included exams, topics and excluded exams with reasons."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var planAnalyzeToolDef = mcp.NewTool("plan_analyze",
	mcp.WithDescription("Compare required study effort against available capacity in a date window."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("start", mcp.Description("First day, YYYY-MM-DD (default today)")),
	mcp.WithString("end", mcp.Required(), mcp.Description("Last day, YYYY-MM-DD")),
	mcp.WithNumber("capacity_minutes", mcp.Description("Daily capacity override")),
)

var planCreateToolDef = mcp.NewTool("plan_create",
	mcp.WithDescription("Build, verify and record a study schedule. The previous current plan is superseded."),
	mcp.WithString("start", mcp.Description("First day, YYYY-MM-DD (default today)")),
	mcp.WithString("end", mcp.Required(), mcp.Description("Last day, YYYY-MM-DD")),
	mcp.WithNumber("capacity_minutes", mcp.Description("Daily capacity override")),
	mcp.WithString("strategy", mcp.Description("Placement strategy (default: recommendation)"),
		mcp.Enum("round_robin", "priority_first", "balanced")),
)

var planFetchToolDef = mcp.NewTool("plan_fetch",
	mcp.WithDescription("Fetch a recorded plan with its schedule. Defaults to the current plan."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Description("Plan ID")),
)

var planVerifyToolDef = mcp.NewTool("plan_verify",
	mcp.WithDescription("Re-verify a recorded plan against the current inventory. Defaults to the current plan."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Description("Plan ID")),
)

var planHistoryToolDef = mcp.NewTool("plan_history",
	mcp.WithDescription("List recorded plans, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("Maximum records (default 20, max 200)")),
)

var planExportToolDef = mcp.NewTool("plan_export",
	mcp.WithDescription("Write a recorded plan to a file."),
	mcp.WithString("id", mcp.Description("Plan ID (default: current plan)")),
	mcp.WithString("format", mcp.Description("Output format (default md)"), mcp.Enum("md", "html", "csv", "xlsx", "json")),
	mcp.WithString("path", mcp.Description("Output path (default: exports directory)")),
)
