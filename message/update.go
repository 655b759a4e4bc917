package message

// UpdateType tags the variant carried by an Update.
type UpdateType string

const (
	UpdateStatus      UpdateType = "status"
	UpdateTitle       UpdateType = "title"
	UpdateTool        UpdateType = "tool"
	UpdateWebSearch   UpdateType = "webSearch"
	UpdateStream      UpdateType = "stream"
	UpdateFinalAnswer UpdateType = "finalAnswer"
)

// Status is the lifecycle marker of a status update.
type Status string

const (
	StatusStarted   Status = "started"
	StatusError     Status = "error"
	StatusFinished  Status = "finished"
	StatusKeepAlive Status = "keepAlive"
)

// Subtypes of tool updates.
const (
	ToolCallSubtype     = "call"
	ToolResultSubtype   = "result"
	ToolErrorSubtype    = "error"
	ToolProgressSubtype = "progress"
)

// Subtypes of web search updates.
const (
	WebSearchUpdateSubtype   = "update"
	WebSearchErrorSubtype    = "error"
	WebSearchSourcesSubtype  = "sources"
	WebSearchFinishedSubtype = "finished"
)

// Update is one unit of progress emitted while generating an answer.
// Only the fields relevant to Type are populated.
type Update struct {
	Type        UpdateType       `json:"type"`
	Status      Status           `json:"status,omitempty"`
	Subtype     string           `json:"subtype,omitempty"`
	Message     string           `json:"message,omitempty"`
	Title       string           `json:"title,omitempty"`
	Token       string           `json:"token,omitempty"`
	Text        string           `json:"text,omitempty"`
	Interrupted bool             `json:"interrupted,omitempty"`
	Tool        *ToolUpdate      `json:"tool,omitempty"`
	WebSearch   *WebSearchUpdate `json:"webSearch,omitempty"`

	// Payload carries in-process results (web search context, tool output)
	// alongside the update. It is never serialized.
	Payload any `json:"-"`
}

// ToolUpdate describes a tool call, its result or its failure.
type ToolUpdate struct {
	UUID   string         `json:"uuid"`
	Name   string         `json:"name"`
	Params map[string]any `json:"parameters,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// WebSearchUpdate describes progress of a web search.
type WebSearchUpdate struct {
	Args    []string `json:"args,omitempty"`
	Sources []Source `json:"sources,omitempty"`
}

// Source is a web page used as context for an answer.
type Source struct {
	Link  string `json:"link"`
	Title string `json:"title"`
}

// NewStatusUpdate creates a status update with an optional message.
func NewStatusUpdate(status Status, msg string) *Update {
	return &Update{Type: UpdateStatus, Status: status, Message: msg}
}

// NewStreamUpdate creates a token stream update.
func NewStreamUpdate(token string) *Update {
	return &Update{Type: UpdateStream, Token: token}
}

// NewFinalAnswerUpdate creates the final answer update.
func NewFinalAnswerUpdate(text string, interrupted bool) *Update {
	return &Update{Type: UpdateFinalAnswer, Text: text, Interrupted: interrupted}
}

// NewTitleUpdate creates a conversation title update.
func NewTitleUpdate(title string) *Update {
	return &Update{Type: UpdateTitle, Title: title}
}

// NewToolCallUpdate announces that a tool is about to run.
func NewToolCallUpdate(call ToolCall) *Update {
	return &Update{
		Type:    UpdateTool,
		Subtype: ToolCallSubtype,
		Tool:    &ToolUpdate{UUID: call.ID, Name: call.Name, Params: call.Args},
	}
}

// NewToolResultUpdate reports a tool's output. payload is the caller-side result value.
func NewToolResultUpdate(call ToolCall, result string, payload any) *Update {
	return &Update{
		Type:    UpdateTool,
		Subtype: ToolResultSubtype,
		Tool:    &ToolUpdate{UUID: call.ID, Name: call.Name, Result: result},
		Payload: payload,
	}
}

// NewToolErrorUpdate reports a failed tool call.
func NewToolErrorUpdate(call ToolCall, errMsg string, payload any) *Update {
	return &Update{
		Type:    UpdateTool,
		Subtype: ToolErrorSubtype,
		Message: errMsg,
		Tool:    &ToolUpdate{UUID: call.ID, Name: call.Name, Error: errMsg},
		Payload: payload,
	}
}

// NewToolProgressUpdate reports progress of a running tool. The call id is
// filled in by the tool runner.
func NewToolProgressUpdate(name, msg string) *Update {
	return &Update{
		Type:    UpdateTool,
		Subtype: ToolProgressSubtype,
		Message: msg,
		Tool:    &ToolUpdate{Name: name},
	}
}

// NewWebSearchUpdate reports web search progress.
func NewWebSearchUpdate(msg string, args ...string) *Update {
	return &Update{
		Type:      UpdateWebSearch,
		Subtype:   WebSearchUpdateSubtype,
		Message:   msg,
		WebSearch: &WebSearchUpdate{Args: args},
	}
}

// NewWebSearchErrorUpdate reports a web search failure.
func NewWebSearchErrorUpdate(msg string, args ...string) *Update {
	return &Update{
		Type:      UpdateWebSearch,
		Subtype:   WebSearchErrorSubtype,
		Message:   msg,
		WebSearch: &WebSearchUpdate{Args: args},
	}
}

// NewWebSearchSourcesUpdate lists the pages selected as context.
func NewWebSearchSourcesUpdate(sources []Source) *Update {
	return &Update{
		Type:      UpdateWebSearch,
		Subtype:   WebSearchSourcesSubtype,
		Message:   "sources",
		WebSearch: &WebSearchUpdate{Sources: sources},
	}
}

// NewWebSearchFinishedUpdate closes a web search; payload carries the result.
func NewWebSearchFinishedUpdate(payload any) *Update {
	return &Update{
		Type:    UpdateWebSearch,
		Subtype: WebSearchFinishedSubtype,
		Payload: payload,
	}
}
