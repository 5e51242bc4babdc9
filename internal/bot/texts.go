package bot

// User-facing texts.
const (
	TextWelcome            = "👋 Send a message to start working with the agent."
	TextThinking           = "💭 Thinking..."
	TextCreatingSession    = "🔄 Creating a new session..."
	TextSessionCreated     = "✅ Session created: %s"
	TextCreateSessionError = "🔴 Failed to create session. Check that the OpenCode server is running."
	TextSessionBusy        = "⏳ Agent is already running a task. Wait for completion."
	TextSessionReset       = "⚠️ The current session belongs to another project. Session context was reset, send your message again."
	TextNewSession         = "🆕 The next message will start a new session."
	TextPromptError        = "🔴 Failed to send request.\n\nDetails: %s"
	TextStreamDisconnected = "🔴 OpenCode event stream disconnected. Restart the bot to reconnect."
	TextAgentMenu          = "Select the agent mode:"
	TextAgentChanged       = "✅ Agent mode: %s"
	TextUnknownAction      = "Unknown action"
)

// agents offered by the agent menu.
var agents = []string{"build", "plan"}
