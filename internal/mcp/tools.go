package mcp

import "github.com/mark3labs/mcp-go/mcp"

var ingestToolDef = mcp.NewTool("card_ingest",
	mcp.WithDescription("Ingest a character card from a PNG container or JSON file. "+
		"Pass the bytes as data_base64, or a local path. With card_id, the upload "+
		"supersedes that card and the previous version moves to history."),
	mcp.WithString("data_base64", mcp.Description("Card file contents, base64-encoded")),
	mcp.WithString("path", mcp.Description("Local file to read instead of data_base64")),
	mcp.WithString("file_name", mcp.Description("Original file name; its extension helps pick the format")),
	mcp.WithString("content_type", mcp.Description("image/png or application/json")),
	mcp.WithString("card_id", mcp.Description("Existing card to supersede")),
)

var fetchToolDef = mcp.NewTool("card_fetch",
	mcp.WithDescription("Fetch a stored card by id, with creator notes rendered to HTML."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Card ULID")),
	mcp.WithBoolean("include_deleted", mcp.Description("Also return soft-deleted cards")),
)

var listToolDef = mcp.NewTool("card_list",
	mcp.WithDescription("List stored cards, most recently updated first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var historyToolDef = mcp.NewTool("card_history",
	mcp.WithDescription("List the superseded versions of a card, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Card ULID")),
)

var deleteToolDef = mcp.NewTool("card_delete",
	mcp.WithDescription("Soft-delete a card. History and chat sessions are kept."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Card ULID")),
)

var rulesGetToolDef = mcp.NewTool("rules_get",
	mcp.WithDescription("Get the regex rules of one scope: global, card-builtin or card-display."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("scope", mcp.Enum("global", "card-builtin", "card-display"), mcp.Description("Rule scope (default global)")),
	mcp.WithString("card_id", mcp.Description("Card ULID; required for card scopes")),
)

var rulesSetToolDef = mcp.NewTool("rules_set",
	mcp.WithDescription("Replace the regex rules of the global or card-display scope. "+
		"Rules that do not compile are stored and listed as skipped."),
	mcp.WithString("scope", mcp.Enum("global", "card-display"), mcp.Description("Rule scope (default global)")),
	mcp.WithString("card_id", mcp.Description("Card ULID; required for card-display")),
	mcp.WithArray("rules", mcp.Required(),
		mcp.Description("Ordered rules: {id, regex, flags, replace} or {id, findRegex, replaceString}"),
		mcp.Items(map[string]any{"type": "object"}),
	),
)

var sessionAddToolDef = mcp.NewTool("session_add",
	mcp.WithDescription("Upload a chat transcript for a card, from data_base64 or a local path."),
	mcp.WithString("card_id", mcp.Required(), mcp.Description("Card ULID")),
	mcp.WithString("file_name", mcp.Description("Transcript file name (defaults to the path's base name)")),
	mcp.WithString("data_base64", mcp.Description("Transcript contents, base64-encoded")),
	mcp.WithString("path", mcp.Description("Local file to read instead of data_base64")),
)

var sessionListToolDef = mcp.NewTool("session_list",
	mcp.WithDescription("List a card's chat sessions, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("card_id", mcp.Required(), mcp.Description("Card ULID")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var pageToolDef = mcp.NewTool("transcript_page",
	mcp.WithDescription("Read one page of a stored transcript, rendered through the card's rule chain. "+
		"Only the lines needed for the page are read from storage."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
	mcp.WithNumber("page", mcp.Description("1-based page (default 1)")),
	mcp.WithNumber("page_size", mcp.Description("Records per page (default 20)")),
)

var parseToolDef = mcp.NewTool("transcript_parse",
	mcp.WithDescription("Parse transcript text held in memory and return one rendered page with the total count."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("text", mcp.Required(), mcp.Description("Whole transcript text")),
	mcp.WithString("file_name", mcp.Description("File name; .jsonl/.json or .txt fixes the format")),
	mcp.WithString("card_id", mcp.Description("Card whose rules apply; global rules only when empty")),
	mcp.WithNumber("page", mcp.Description("1-based page (default 1)")),
	mcp.WithNumber("page_size", mcp.Description("Records per page (default 20)")),
)
