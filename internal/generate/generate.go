// Package generate produces the new content of a structured note when its
// refresh interval elapses.
package generate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/vcs"
)

// Request is everything known about the note being regenerated.
type Request struct {
	Path        string
	Description string
	Current     string
	Commits     []vcs.Commit
	Now         time.Time
	Location    *time.Location
}

// Generator produces note content.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned no text")

const systemPrompt = `You maintain a markdown note inside a personal journal.
Rewrite the note so it reflects the recent commits listed by the user.
Follow the note's description when one is given. Answer with the complete
markdown note only, without a preamble.`

// Claude generates notes through the Anthropic Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       *zap.Logger
}

// ClaudeConfig holds configuration for Claude.
type ClaudeConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Logger    *zap.Logger

	// Options are appended to the client options, e.g. a base URL in tests.
	Options []option.RequestOption
}

// NewClaude creates a Claude generator.
func NewClaude(config ClaudeConfig) (*Claude, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ai.api_key is not set")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("ai.model is not set")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2048
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	opts := append([]option.RequestOption{option.WithAPIKey(config.APIKey)}, config.Options...)
	return &Claude{
		client:    anthropic.NewClient(opts...),
		model:     config.Model,
		maxTokens: int64(config.MaxTokens),
		log:       config.Logger.Named("generate"),
	}, nil
}

// Generate implements Generator.
func (c *Claude) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Prompt(req))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", req.Path, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("generate %s: %w", req.Path, ErrEmptyResponse)
	}

	c.log.Debug("generated note",
		zap.String("path", req.Path),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("took", time.Since(start)))
	return out.String(), nil
}

// Prompt renders the user message sent for req.
func Prompt(req Request) string {
	var b strings.Builder
	if req.Description != "" {
		fmt.Fprintf(&b, "Note description: %s\n\n", req.Description)
	}
	b.WriteString("Current note:\n")
	if strings.TrimSpace(req.Current) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(req.Current)
		if !strings.HasSuffix(req.Current, "\n") {
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nRecent commits:\n")
	b.WriteString(Digest(req.Commits, req.Location))
	return b.String()
}

// Digest lists commits newest first, one line each.
func Digest(commits []vcs.Commit, loc *time.Location) string {
	if len(commits) == 0 {
		return "(none)\n"
	}
	sorted := append([]vcs.Commit(nil), commits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs > sorted[j].TimestampMs
	})

	var b strings.Builder
	for _, c := range sorted {
		subject, _, _ := strings.Cut(c.Message, "\n")
		fmt.Fprintf(&b, "- %s %s: %s",
			c.Time(loc).Format("2006-01-02 15:04"), repoName(c.RepoPath), subject)
		if len(c.Branches) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(c.Branches, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func repoName(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Summary writes a commit digest without a model. It keeps the note's first
// heading and replaces everything below it.
type Summary struct{}

// Generate implements Generator.
func (Summary) Generate(ctx context.Context, req Request) (string, error) {
	heading := "# Recent work"
	for _, line := range strings.Split(req.Current, "\n") {
		if strings.HasPrefix(line, "# ") {
			heading = line
			break
		}
	}

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n\n")
	if req.Description != "" {
		fmt.Fprintf(&b, "_%s_\n\n", req.Description)
	}
	fmt.Fprintf(&b, "Updated %s\n\n", req.Now.In(orLocal(req.Location)).Format("2006-01-02 15:04"))
	b.WriteString(Digest(req.Commits, req.Location))
	return b.String(), nil
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
