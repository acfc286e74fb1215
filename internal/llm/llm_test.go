package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hey! how's it going?"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
	reply, err := client.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "hey! how's it going?", reply)
}

func TestGenerateUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), Request{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Generate(context.Background(), Request{})
	require.Error(t, err)
}

func TestBuildMessages(t *testing.T) {
	in := PromptInput{
		Profile:  &models.Profile{Name: "Dana"},
		Settings: &models.AISettings{CustomInstructions: "Sign off with a smiley.", StyleNotes: "lowercase, short"},
		Client:   &models.Client{IsRegular: true, Notes: "prefers evenings"},
		Examples: []models.TextExample{{Content: "hey! sure thing"}, {Content: "sounds good, talk soon"}},
		History: []models.Message{
			{Content: "you around tomorrow?", IsIncoming: true},
			{Content: "should be! will confirm", IsIncoming: false},
		},
		Incoming: "great, let me know",
	}

	messages := BuildMessages(in)
	require.Len(t, messages, 4)

	system := messages[0]
	require.Equal(t, "system", system.Role)
	require.Contains(t, system.Content, "You are Dana")
	require.Contains(t, system.Content, "Never state prices")
	require.Contains(t, system.Content, "Sign off with a smiley.")
	require.Contains(t, system.Content, "lowercase, short")
	require.Contains(t, system.Content, "regular client")
	require.Contains(t, system.Content, "prefers evenings")
	require.Contains(t, system.Content, "hey! sure thing")

	require.Equal(t, Message{Role: "user", Content: "you around tomorrow?"}, messages[1])
	require.Equal(t, Message{Role: "assistant", Content: "should be! will confirm"}, messages[2])
	require.Equal(t, Message{Role: "user", Content: "great, let me know"}, messages[3])
}

func TestBuildMessagesExampleCap(t *testing.T) {
	in := PromptInput{Incoming: "hi"}
	for i := 0; i < 30; i++ {
		in.Examples = append(in.Examples, models.TextExample{Content: "example text"})
	}

	system := BuildMessages(in)[0].Content
	require.Equal(t, maxTextExamples, strings.Count(system, "- example text"))
}

func TestSanitize(t *testing.T) {
	require.Equal(t, SanitizedReply, Sanitize("it's $50 for an hour"))
	require.Equal(t, SanitizedReply, Sanitize("my rates are on my site"))
	require.Equal(t, SanitizedReply, Sanitize("send it on Venmo"))
	require.Equal(t, "see you soon!", Sanitize("see you soon!"))

	// Meeting logistics and service offers are banned outright.
	require.Equal(t, SanitizedReply, Sanitize("Sure, let's meet tomorrow"))
	require.Equal(t, SanitizedReply, Sanitize("I can fit in an appointment at 3"))
	require.Equal(t, SanitizedReply, Sanitize("text me the location"))
	require.Equal(t, SanitizedReply, Sanitize("happy to provide that"))

	// Word boundaries keep ordinary words intact.
	require.Equal(t, "I'll update you later!", Sanitize("I'll update you later!"))

	// Sanitized output is itself clean.
	require.Equal(t, SanitizedReply, Sanitize(SanitizedReply))
}

func TestPostProcess(t *testing.T) {
	require.Equal(t, "hey there!", PostProcess(`AI: "hey there!"`))
	require.Equal(t, "hey there!", PostProcess("Assistant:  hey there!  "))
	require.Equal(t, SanitizedReply, PostProcess("it's 100 dollars"))
	require.Equal(t, "", PostProcess("   "))
}

func TestTruncateSentenceBoundary(t *testing.T) {
	long := strings.Repeat("a", 100) + ". " + strings.Repeat("b", 100) + "."
	got := Truncate(long, 160)
	require.LessOrEqual(t, len(got), 160)
	require.Equal(t, strings.Repeat("a", 100)+".", got)

	// No sentence end inside the limit falls back to a word boundary.
	words := strings.Repeat("word ", 50)
	got = Truncate(words, 160)
	require.LessOrEqual(t, len(got), 160)
	require.False(t, strings.HasSuffix(got, " "))

	require.Equal(t, "short", Truncate("short", 160))
}
