// tools.go declares the tool table and the dispatch path every call takes.
//
// Design: The table is static. Each entry carries its schema, the permission
// it needs and the argument naming its target path, so authorization and
// validation happen once, here, before any handler runs. The table is
// indexed at package initialisation and a duplicate name panics, which
// surfaces a bad merge at startup instead of as a silently shadowed tool.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/log"
	"github.com/jpl-au/collab/internal/validate"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Defaults for size-limiting arguments.
const (
	defaultMaxResults    = 50
	defaultHistoryLimit  = 10
	maxHistoryLimit      = 100
	defaultActivityLimit = 20
	defaultMaxEvents     = 100
)

type handlerFunc func(h *handlers, ctx context.Context, req mcp.CallToolRequest) (reply, error)

// tool is one entry of the table.
type tool struct {
	def  mcp.Tool
	perm auth.Permission
	// pathArg names the argument holding the target path. Empty means the
	// permission is checked against the server as a whole.
	pathArg string
	// optional allows the path to be omitted, which targets the server.
	optional bool
	// prefix validates the path as a listing prefix or filter rather than
	// a resource.
	prefix bool
	// mutates rejects calls whose target is a closed fork.
	mutates bool
	handle  handlerFunc
}

// object builds a JSON schema for array items.
func object(props map[string]string, required ...string) map[string]any {
	p := make(map[string]any, len(props))
	for name, typ := range props {
		p[name] = map[string]any{"type": typ}
	}
	s := map[string]any{"type": "object", "properties": p}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var stringItems = mcp.Items(map[string]any{"type": "string"})

var toolTable = []tool{
	// Documents
	{
		def: mcp.NewTool("list_documents",
			mcp.WithDescription("List documents under a directory, optionally filtered by a glob pattern"),
			mcp.WithString("path", mcp.Description("Directory prefix (default: everything)")),
			mcp.WithString("pattern", mcp.Description("Glob pattern, e.g. '*.md' or 'docs/**'")),
			mcp.WithNumber("max_results", mcp.Description("Maximum entries to return (default 50, max 1000)")),
		),
		perm: auth.Read, pathArg: "path", optional: true, prefix: true,
		handle: (*handlers).listDocuments,
	},
	{
		def: mcp.NewTool("get_document",
			mcp.WithDescription("Read a document's content, truncated to max_content_length characters"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
			mcp.WithNumber("max_content_length", mcp.Description("Maximum characters of content (default 100000)")),
			mcp.WithBoolean("include_collaboration_state", mcp.Description("Include session, online users and cursors (default true)")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).getDocument,
	},
	{
		def: mcp.NewTool("create_document_session",
			mcp.WithDescription("Get or create the collaboration session for a document"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).createDocumentSession,
	},
	{
		def: mcp.NewTool("batch_update_document",
			mcp.WithDescription("Apply insert/replace operations to a document in order. position -1 appends; a non-zero length replaces that many characters"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
			mcp.WithArray("operations", mcp.Required(), mcp.Description("Operations applied in order"),
				mcp.Items(object(map[string]string{"content": "string", "position": "integer", "length": "integer"}, "content"))),
			mcp.WithBoolean("continue_on_error", mcp.Description("Keep applying after a failed operation (default false: abort)")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).batchUpdateDocument,
	},
	{
		def: mcp.NewTool("batch_insert_text",
			mcp.WithDescription("Insert text at positions in a document, in order"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
			mcp.WithArray("insertions", mcp.Required(), mcp.Description("Insertions applied in order"),
				mcp.Items(object(map[string]string{"text": "string", "position": "integer"}, "text", "position"))),
			mcp.WithBoolean("continue_on_error", mcp.Description("Keep applying after a failed insertion")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).batchInsertText,
	},
	{
		def: mcp.NewTool("batch_delete_text",
			mcp.WithDescription("Delete ranges of text from a document, in order"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
			mcp.WithArray("deletions", mcp.Required(), mcp.Description("Deletions applied in order"),
				mcp.Items(object(map[string]string{"position": "integer", "length": "integer"}, "position", "length"))),
			mcp.WithBoolean("continue_on_error", mcp.Description("Keep applying after a failed deletion")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).batchDeleteText,
	},
	{
		def: mcp.NewTool("get_document_history",
			mcp.WithDescription("List a document's versions, newest first"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document or notebook path")),
			mcp.WithNumber("limit", mcp.Description("Maximum versions to return (default 10, max 100)")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).getDocumentHistory,
	},
	{
		def: mcp.NewTool("get_version_diff",
			mcp.WithDescription("Show the differences between two versions"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document or notebook path")),
			mcp.WithString("from_version", mcp.Required(), mcp.Description("Older version id or v<seq>")),
			mcp.WithString("to_version", mcp.Description("Newer version id or v<seq> (default: latest)")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).getVersionDiff,
	},
	{
		def: mcp.NewTool("restore_document_version",
			mcp.WithDescription("Make an earlier version current again, recorded as a new version"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Document or notebook path")),
			mcp.WithString("version_id", mcp.Required(), mcp.Description("Version id or v<seq>")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).restoreDocumentVersion,
	},

	// Forks
	{
		def: mcp.NewTool("fork_document",
			mcp.WithDescription("Create a private copy of a document to edit and later merge back"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Source document path")),
			mcp.WithString("title", mcp.Description("Fork title (default 'Fork of <path>')")),
			mcp.WithString("description", mcp.Description("What the fork is for")),
			mcp.WithBoolean("synchronize", mcp.Description("Keep receiving non-conflicting source edits (default false)")),
		),
		perm: auth.Write, pathArg: "path",
		handle: (*handlers).forkDocument,
	},
	{
		def: mcp.NewTool("list_document_forks",
			mcp.WithDescription("List the forks of a document"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Source document path")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).listDocumentForks,
	},
	{
		def: mcp.NewTool("merge_document_fork",
			mcp.WithDescription("Apply a fork's changes to its source. Changes overlapping source edits are reported as conflicts"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Source document path")),
			mcp.WithString("fork_id", mcp.Required(), mcp.Description("Fork id")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).mergeDocumentFork,
	},
	{
		def: mcp.NewTool("abandon_document_fork",
			mcp.WithDescription("Discard a fork without merging"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Source document path")),
			mcp.WithString("fork_id", mcp.Required(), mcp.Description("Fork id")),
		),
		perm: auth.Write, pathArg: "path",
		handle: (*handlers).abandonDocumentFork,
	},

	// Notebooks
	{
		def: mcp.NewTool("list_notebooks",
			mcp.WithDescription("List notebooks under a directory, optionally filtered by a glob pattern"),
			mcp.WithString("path", mcp.Description("Directory prefix (default: everything)")),
			mcp.WithString("pattern", mcp.Description("Glob pattern, e.g. 'analysis/**'")),
			mcp.WithNumber("max_results", mcp.Description("Maximum entries to return (default 50, max 1000)")),
		),
		perm: auth.Read, pathArg: "path", optional: true, prefix: true,
		handle: (*handlers).listNotebooks,
	},
	{
		def: mcp.NewTool("get_notebook",
			mcp.WithDescription("Read a notebook's cells, sources truncated to max_content_length characters in total"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
			mcp.WithNumber("max_content_length", mcp.Description("Maximum characters of content (default 100000)")),
			mcp.WithBoolean("include_collaboration_state", mcp.Description("Include session, online users and cursors (default true)")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).getNotebook,
	},
	{
		def: mcp.NewTool("create_notebook_session",
			mcp.WithDescription("Get or create the collaboration session for a notebook"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
		),
		perm: auth.Read, pathArg: "path",
		handle: (*handlers).createNotebookSession,
	},
	{
		def: mcp.NewTool("batch_update_notebook_cells",
			mcp.WithDescription("Replace the source, and optionally the type, of notebook cells"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
			mcp.WithArray("updates", mcp.Required(), mcp.Description("Updates applied in order; each names a cell_id or an index"),
				mcp.Items(object(map[string]string{"cell_id": "string", "index": "integer", "source": "string", "cell_type": "string"}, "source"))),
			mcp.WithBoolean("continue_on_error", mcp.Description("Keep applying after a failed update")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).batchUpdateNotebookCells,
	},
	{
		def: mcp.NewTool("batch_insert_notebook_cells",
			mcp.WithDescription("Insert cells into a notebook"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
			mcp.WithArray("cells", mcp.Required(), mcp.Description("Cells inserted in order"),
				mcp.Items(object(map[string]string{"source": "string", "cell_type": "string", "position": "integer"}, "source"))),
			mcp.WithNumber("start_position", mcp.Description("Index of the first cell without its own position (default: end)")),
			mcp.WithBoolean("continue_on_error", mcp.Description("Keep inserting after a failed cell")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).batchInsertNotebookCells,
	},
	{
		def: mcp.NewTool("batch_delete_notebook_cells",
			mcp.WithDescription("Delete notebook cells by id, or an inclusive index range"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
			mcp.WithArray("cell_ids", mcp.Description("Cell ids to delete"), stringItems),
			mcp.WithNumber("start_index", mcp.Description("First index of the range")),
			mcp.WithNumber("end_index", mcp.Description("Last index of the range (inclusive)")),
		),
		perm: auth.Write, pathArg: "path", mutates: true,
		handle: (*handlers).batchDeleteNotebookCells,
	},
	{
		def: mcp.NewTool("batch_execute_notebook_cells",
			mcp.WithDescription("Run notebook code cells in order and write their outputs back"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
			mcp.WithArray("cell_ids", mcp.Description("Cell ids to run"), stringItems),
			mcp.WithNumber("start_index", mcp.Description("First index of the range")),
			mcp.WithNumber("end_index", mcp.Description("Last index of the range (inclusive)")),
			mcp.WithNumber("timeout", mcp.Description("Seconds allowed per cell (default 30)")),
		),
		perm: auth.Execute, pathArg: "path", mutates: true,
		handle: (*handlers).batchExecuteNotebookCells,
	},

	// Presence
	{
		def: mcp.NewTool("get_online_users",
			mcp.WithDescription("List users seen recently, in one document or anywhere"),
			mcp.WithString("document_path", mcp.Description("Limit to this document")),
		),
		perm: auth.Read, pathArg: "document_path", optional: true,
		handle: (*handlers).getOnlineUsers,
	},
	{
		def: mcp.NewTool("get_user_presence",
			mcp.WithDescription("Get one user's status"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
			mcp.WithString("document_path", mcp.Description("Report presence in this document")),
		),
		perm: auth.Read, pathArg: "document_path", optional: true,
		handle: (*handlers).getUserPresence,
	},
	{
		def: mcp.NewTool("set_user_presence",
			mcp.WithDescription("Set your status and message"),
			mcp.WithString("status", mcp.Description("online, away, busy or offline (default online)"),
				mcp.Enum("online", "away", "busy", "offline")),
			mcp.WithString("message", mcp.Description("Status message")),
		),
		perm: auth.Read,
		handle: (*handlers).setUserPresence,
	},
	{
		def: mcp.NewTool("get_user_cursors",
			mcp.WithDescription("List the cursor positions of active users in a document"),
			mcp.WithString("document_path", mcp.Required(), mcp.Description("Document path")),
		),
		perm: auth.Read, pathArg: "document_path",
		handle: (*handlers).getUserCursors,
	},
	{
		def: mcp.NewTool("update_cursor_position",
			mcp.WithDescription("Share your cursor position in a document"),
			mcp.WithString("document_path", mcp.Required(), mcp.Description("Document path")),
			mcp.WithNumber("line", mcp.Required(), mcp.Description("Line (0-based)")),
			mcp.WithNumber("column", mcp.Required(), mcp.Description("Column (0-based)")),
			mcp.WithNumber("selection_start", mcp.Description("Selection start offset")),
			mcp.WithNumber("selection_end", mcp.Description("Selection end offset")),
		),
		perm: auth.Read, pathArg: "document_path",
		handle: (*handlers).updateCursorPosition,
	},
	{
		def: mcp.NewTool("get_user_activity",
			mcp.WithDescription("List recent activity, newest first"),
			mcp.WithString("document_path", mcp.Description("Limit to this document")),
			mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
		),
		perm: auth.Read, pathArg: "document_path", optional: true,
		handle: (*handlers).getUserActivity,
	},
	{
		def: mcp.NewTool("broadcast_user_activity",
			mcp.WithDescription("Tell other users what you are doing"),
			mcp.WithString("activity_type", mcp.Required(), mcp.Description("Kind of activity, e.g. 'reviewing'")),
			mcp.WithString("description", mcp.Required(), mcp.Description("What you are doing")),
			mcp.WithString("document_path", mcp.Description("Document the activity concerns")),
			mcp.WithObject("metadata", mcp.Description("Free-form details")),
		),
		perm: auth.Read, pathArg: "document_path", optional: true,
		handle: (*handlers).broadcastUserActivity,
	},

	// Sessions
	{
		def: mcp.NewTool("get_active_sessions",
			mcp.WithDescription("List live sessions, optionally filtered by a path prefix or glob"),
			mcp.WithString("document_path", mcp.Description("Path prefix or glob pattern")),
		),
		perm: auth.Read, pathArg: "document_path", optional: true, prefix: true,
		handle: (*handlers).getActiveSessions,
	},
	{
		def: mcp.NewTool("join_session",
			mcp.WithDescription("Join a session as a participant"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		),
		perm: auth.Read,
		handle: (*handlers).joinSession,
	},
	{
		def: mcp.NewTool("leave_session",
			mcp.WithDescription("Leave a session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		),
		perm: auth.Read,
		handle: (*handlers).leaveSession,
	},

	// Events
	{
		def: mcp.NewTool("get_events",
			mcp.WithDescription("Return events newer than last_event_id in order. Fails with replay_gap when the id is no longer retained"),
			mcp.WithString("stream_id", mcp.Description("Stream id: doc:<path> or awareness")),
			mcp.WithString("path", mcp.Description("Resource path, shorthand for stream doc:<path>")),
			mcp.WithString("last_event_id", mcp.Description("Id of the last event you processed (default: from the oldest retained)")),
			mcp.WithNumber("max_events", mcp.Description("Maximum events to return (default 100)")),
		),
		perm: auth.Read,
		handle: (*handlers).getEvents,
	},
	{
		def: mcp.NewTool("get_event_stats",
			mcp.WithDescription("Report event retention per stream"),
		),
		perm: auth.Admin,
		handle: (*handlers).getEventStats,
	},

	// Help
	{
		def: mcp.NewTool("get_guide",
			mcp.WithDescription("Get help on collab tools and concepts"),
			mcp.WithString("topic", mcp.Description("Guide topic (e.g. 'documents', 'forks', 'events') or empty for the index")),
		),
		perm: auth.Read,
		handle: (*handlers).getGuide,
	},
}

var registry = index(toolTable)

// index maps tool names to entries, panicking on duplicates.
func index(tools []tool) map[string]tool {
	m := make(map[string]tool, len(tools))
	for _, t := range tools {
		if _, dup := m[t.def.Name]; dup {
			panic(fmt.Sprintf("mcp: duplicate tool %q", t.def.Name))
		}
		m[t.def.Name] = t
	}
	return m
}

// registerTools exposes every tool in the table on s.
func registerTools(s *server.MCPServer, h *handlers) {
	for _, name := range slices.Sorted(maps.Keys(registry)) {
		t := registry[name]
		s.AddTool(t.def, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return h.dispatch(ctx, t, req), nil
		})
	}
}

// dispatch runs one tool call. Failures become error results with a stable
// code; the Go error return of the MCP handler is reserved for protocol
// failures and never used.
func (h *handlers) dispatch(ctx context.Context, t tool, req mcp.CallToolRequest) *mcp.CallToolResult {
	if auth.User(ctx) == auth.Anonymous && h.user != "" {
		ctx = auth.WithUser(ctx, h.user)
	}
	entry := log.Event("mcp:"+t.def.Name, t.perm.String()).Author(auth.User(ctx))

	out, err := h.run(ctx, t, req, entry)
	if err != nil {
		code := Code(err)
		if code == CodeInternal {
			slog.Error("tool failed", "tool", t.def.Name, "user", auth.User(ctx), "error", err)
		}
		entry.Code(code).Write(err)
		return errorResultWith(code, err, details(err))
	}
	for k, v := range out.audit {
		entry.Detail(k, v)
	}
	entry.Version(out.version).Write(nil)
	return out.result()
}

func (h *handlers) run(ctx context.Context, t tool, req mcp.CallToolRequest, entry *log.Builder) (reply, error) {
	user := auth.User(ctx)
	if err := h.svc.Auth.Allow(user); err != nil {
		return reply{}, err
	}
	p, err := h.target(ctx, t, req)
	entry.Path(p)
	if err != nil {
		return reply{}, err
	}
	doc := p
	if t.prefix {
		doc = ""
	}
	h.svc.Presence.Touch(user, doc)
	return t.handle(h, ctx, req)
}

// target validates and authorizes the call's path argument and writes the
// cleaned path back so handlers read the canonical form.
func (h *handlers) target(ctx context.Context, t tool, req mcp.CallToolRequest) (string, error) {
	if t.pathArg == "" {
		return "", h.svc.Auth.Check(ctx, "", t.perm)
	}
	raw := getString(req, t.pathArg, "")
	var p string
	var err error
	switch {
	case raw == "" && t.optional:
	case t.prefix:
		p, err = validate.Prefix(raw, h.cfg.MaxPath())
	default:
		p, err = validate.Path(raw, h.cfg.MaxPath())
	}
	if err != nil {
		return raw, fmt.Errorf("%s: %w", t.pathArg, err)
	}
	if m, ok := req.Params.Arguments.(map[string]any); ok && raw != "" {
		m[t.pathArg] = p
	}
	if err := h.svc.Auth.Check(ctx, p, t.perm); err != nil {
		return p, err
	}
	if t.mutates {
		if err := h.svc.Forks.CheckOpen(p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// details adds machine-readable context to an error result.
func details(err error) any {
	var batch *batchError
	if errors.As(err, &batch) {
		return batch.result
	}
	var gap *events.ReplayGapError
	if errors.As(err, &gap) {
		return map[string]string{
			"stream_id":       gap.Stream,
			"last_event_id":   gap.After,
			"oldest_event_id": gap.Oldest,
		}
	}
	return nil
}
