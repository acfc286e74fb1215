package llm

import (
	"fmt"
	"strings"

	"github.com/smswire/concierge/internal/models"
)

const maxTextExamples = 20

// PromptInput gathers everything the system prompt is built from.
type PromptInput struct {
	Profile  *models.Profile
	Settings *models.AISettings
	Client   *models.Client
	Examples []models.TextExample
	// History holds recent conversation turns, oldest first. Incoming
	// messages become user turns, outgoing ones assistant turns.
	History  []models.Message
	Incoming string
}

// BuildMessages assembles the chat transcript for a generation call: one
// system message describing the persona and rules, the recent history, then
// the message being answered.
func BuildMessages(in PromptInput) []Message {
	messages := []Message{{Role: "system", Content: buildSystemPrompt(in)}}

	for _, turn := range in.History {
		role := "assistant"
		if turn.IsIncoming {
			role = "user"
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		messages = append(messages, Message{Role: role, Content: content})
	}

	messages = append(messages, Message{Role: "user", Content: in.Incoming})
	return messages
}

func buildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	name := "the business owner"
	if in.Profile != nil && strings.TrimSpace(in.Profile.Name) != "" {
		name = strings.TrimSpace(in.Profile.Name)
	}
	fmt.Fprintf(&b, "You are %s, replying to text messages from clients on their behalf.\n\n", name)

	b.WriteString("Rules:\n")
	b.WriteString("- Reply like a real person texting: short, casual, warm.\n")
	b.WriteString("- Keep replies under 160 characters.\n")
	b.WriteString("- Never state prices, rates or amounts of money.\n")
	b.WriteString("- Never commit to specific times, dates or locations; say you'll confirm later.\n")
	b.WriteString("- If the message is about something sensitive or that you're unsure of, deflect politely.\n")
	b.WriteString("- Never mention being an AI or an assistant.\n")

	if in.Settings != nil {
		if custom := strings.TrimSpace(in.Settings.CustomInstructions); custom != "" {
			b.WriteString("\nAdditional instructions:\n")
			b.WriteString(custom)
			b.WriteString("\n")
		}
		if style := strings.TrimSpace(in.Settings.StyleNotes); style != "" {
			b.WriteString("\nWriting style:\n")
			b.WriteString(style)
			b.WriteString("\n")
		}
	}

	if in.Client != nil {
		var facts []string
		if in.Client.IsRegular {
			facts = append(facts, "this is a regular client you know well")
		}
		if notes := strings.TrimSpace(in.Client.Notes); notes != "" {
			facts = append(facts, "notes on them: "+notes)
		}
		if len(facts) > 0 {
			b.WriteString("\nAbout this client: ")
			b.WriteString(strings.Join(facts, "; "))
			b.WriteString(".\n")
		}
	}

	if len(in.Examples) > 0 {
		b.WriteString("\nExamples of how you text:\n")
		count := 0
		for _, example := range in.Examples {
			content := strings.TrimSpace(example.Content)
			if content == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", content)
			count++
			if count >= maxTextExamples {
				break
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
