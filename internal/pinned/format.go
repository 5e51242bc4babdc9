package pinned

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/inercia/opencode-telegram/internal/opencode"
)

const (
	// DefaultSessionTitle is shown until the agent names the session.
	DefaultSessionTitle = "new session"

	textUnknown = "Unknown"
	maxFiles    = 10
)

// FormatTokens renders a token count as 950, 150K or 1.2M.
func FormatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%dK", int64(math.Round(float64(n)/1000)))
	}
	return strconv.FormatInt(n, 10)
}

// Percent returns used as a rounded percentage of limit, or 0 without a limit.
func Percent(used, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(used) / float64(limit) * 100))
}

// relativePath shows file relative to worktree, or its last three
// segments when it lies elsewhere.
func relativePath(file, worktree string) string {
	normalized := strings.ReplaceAll(file, `\`, "/")
	if worktree != "" {
		root := strings.ReplaceAll(worktree, `\`, "/")
		if rel, ok := strings.CutPrefix(normalized, root); ok {
			if rel = strings.TrimPrefix(rel, "/"); rel != "" {
				return rel
			}
			return normalized
		}
	}
	segments := strings.Split(normalized, "/")
	if len(segments) <= 3 {
		return normalized
	}
	return ".../" + strings.Join(segments[len(segments)-3:], "/")
}

func diffSuffix(f opencode.FileDiff) string {
	var parts []string
	if f.Additions > 0 {
		parts = append(parts, fmt.Sprintf("+%d", f.Additions))
	}
	if f.Deletions > 0 {
		parts = append(parts, fmt.Sprintf("-%d", f.Deletions))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " ") + ")"
}

// formatStatus renders the pinned message text.
func formatStatus(s State, model, worktree string) string {
	if model == "" {
		model = textUnknown
	}
	lines := []string{
		s.SessionTitle,
		"Project: " + s.ProjectName,
		"Model: " + model,
		fmt.Sprintf("Context: %s / %s (%d%%)",
			FormatTokens(s.TokensUsed), FormatTokens(s.TokensLimit), Percent(s.TokensUsed, s.TokensLimit)),
	}

	if total := len(s.ChangedFiles); total > 0 {
		lines = append(lines, "", fmt.Sprintf("Files (%d):", total))
		for i, f := range s.ChangedFiles {
			if i == maxFiles {
				lines = append(lines, fmt.Sprintf("  ... and %d more", total-maxFiles))
				break
			}
			lines = append(lines, "  "+relativePath(f.File, worktree)+diffSuffix(f))
		}
	}
	return strings.Join(lines, "\n")
}

// peakContext returns the largest context size reported by a non-summary
// assistant message.
func peakContext(messages []opencode.MessageWithParts) int64 {
	var peak int64
	for _, m := range messages {
		if m.Info.Role != opencode.RoleAssistant || m.Info.Summary || m.Info.Tokens == nil {
			continue
		}
		peak = max(peak, m.Info.Tokens.Context())
	}
	return peak
}

// diffsFromMessages rebuilds file changes from completed edit and write
// tool calls, in order of first appearance.
func diffsFromMessages(messages []opencode.MessageWithParts) []opencode.FileDiff {
	var out []opencode.FileDiff
	index := make(map[string]int)
	add := func(file string, additions, deletions int) {
		if i, ok := index[file]; ok {
			out[i].Additions += additions
			out[i].Deletions += deletions
			return
		}
		index[file] = len(out)
		out = append(out, opencode.FileDiff{File: file, Additions: additions, Deletions: deletions})
	}

	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Type != opencode.PartTool || p.State == nil || p.State.Status != opencode.ToolCompleted {
				continue
			}
			switch p.Tool {
			case "edit":
				fd, ok := p.State.Metadata["filediff"].(map[string]any)
				if !ok {
					continue
				}
				if file, _ := fd["file"].(string); file != "" {
					add(file, intValue(fd["additions"]), intValue(fd["deletions"]))
				}
			case "write":
				file, _ := p.State.Input["filePath"].(string)
				content, ok := p.State.Input["content"].(string)
				if file != "" && ok {
					add(file, strings.Count(content, "\n")+1, 0)
				}
			}
		}
	}
	return out
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
