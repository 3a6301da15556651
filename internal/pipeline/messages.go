package pipeline

import "github.com/dev2prod/concierge/internal/telegram"

// User-facing copy. Kept in one place so the tone stays consistent.
const (
	defaultSystemPrompt = "You are the assistant for Dev2Production, a DevOps and software " +
		"consultancy. Answer questions about DevOps, CI/CD, cloud architecture, " +
		"Kubernetes, and custom software development. Be concise and friendly. " +
		"If you are not sure about something, say so and suggest talking to the team."

	msgWelcome = "Welcome to Dev2Production! I can answer questions about our services " +
		"or collect details for a new project. What would you like to do?"

	msgHelp = "Here's what I can do:\n" +
		"• Answer questions about DevOps, cloud, and software development\n" +
		"• Collect details for a new project (/start, then \"Start a Project\")\n" +
		"• Connect you with a human (just ask)\n\n" +
		"Send /cancel to stop a project questionnaire."

	msgCancelled       = "Okay, I've cancelled the questionnaire. Anything else I can help with?"
	msgNothingToCancel = "There's nothing to cancel right now."

	msgIntakeExpired = "Your earlier project questionnaire timed out, so I've cleared it. " +
		"Send /start to begin again whenever you're ready."

	msgIntakeInvalid = "Sorry, I didn't catch that. "

	msgAskAway = "Sure — ask me anything about our services, process, or pricing."

	msgQuotaSession = "I've answered quite a few questions in this conversation. " +
		"To keep things useful, let me connect you with the team — or try again in a new conversation."

	msgQuotaDaily = "You've reached today's limit for assistant answers. " +
		"A human can pick things up from here, or come back tomorrow."

	msgQuotaBudget = "I'm temporarily unavailable for open-ended questions. " +
		"The team has been notified — you can also ask to talk to a human."

	msgGenerateFailed = "Sorry, I'm having trouble answering right now. " +
		"Please try again in a moment, or ask to talk to a human."

	msgEscalated = "I'm connecting you with a member of the team. " +
		"They'll pick up this conversation shortly — your messages from now on go straight to them."

	msgConversationClosed = "This conversation has been closed. Send a message any time to start fresh."

	msgBackToBot = "You're back with the assistant. How else can I help?"
)

// Callback data values for the /start inline keyboard.
const (
	cbStartProject = "start_project"
	cbAskQuestions = "ask_questions"
	cbServices     = "services"
	cbEscalate     = "escalate"
)

func welcomeKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Start a Project", CallbackData: cbStartProject}},
			{{Text: "Ask Questions", CallbackData: cbAskQuestions}},
			{{Text: "Services", CallbackData: cbServices}},
			{{Text: "Talk to Human", CallbackData: cbEscalate}},
		},
	}
}

const msgServicesOverview = "We offer DevOps & CI/CD pipeline setup, cloud architecture " +
	"(AWS, Azure, GCP), Kubernetes and container orchestration, infrastructure as code, " +
	"custom software development, and system integration. Anything you'd like to dig into?"
