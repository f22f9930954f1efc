package builtin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/quill/internal/llm"
	"github.com/ShayCichocki/quill/internal/skill"
)

const (
	stageOutlined = "outlined"
	articleSteps  = 3
)

// articleProgress is the resumable state of an article run.
type articleProgress struct {
	Stage   string `json:"stage"`
	Path    string `json:"path"`
	Outline string `json:"outline"`
}

// articleWriter outlines, drafts and writes a markdown article.
// The outline is checkpointed so a paused run resumes at the draft step.
type articleWriter struct {
	deps Deps
}

func (w *articleWriter) Execute(sc *skill.Context, params map[string]any) (*skill.Result, error) {
	topic, _ := skill.StringParam(params, skill.ParamInput)
	if topic == "" {
		return nil, fmt.Errorf("write_article: no topic given")
	}

	state := articleProgress{}
	if cp := sc.Checkpoint(); len(cp) > 0 {
		if err := json.Unmarshal(cp, &state); err != nil {
			sc.Logger().Warn("ignoring unreadable checkpoint", "error", err)
			state = articleProgress{}
		}
	}
	if state.Path == "" {
		state.Path = articlePath(params, topic, sc.TaskID())
	}

	if !sc.AcquireLock(state.Path) {
		return nil, fmt.Errorf("write_article: %s is being edited by another task", state.Path)
	}

	var usage llm.Usage
	if state.Stage != stageOutlined {
		sc.Progress(1, articleSteps, "outlining")
		resp, err := w.deps.Model.Chat(sc.Signal(), llm.UserPrompt(
			"You are an editor. Produce a concise markdown outline (headings and bullet points only).",
			"Outline an article about: "+topic,
		))
		if err != nil {
			return nil, fmt.Errorf("outline: %w", err)
		}
		usage = addUsage(usage, resp.Usage)
		sc.RecordCost(resp.Usage.Total(), resp.Usage.Cost)

		state.Stage = stageOutlined
		state.Outline = resp.Text
		if data, err := json.Marshal(state); err == nil {
			sc.SaveCheckpoint(data)
		}
	} else {
		sc.Logger().Info("resuming from outline", "path", state.Path)
	}

	if err := sc.Cancelled(); err != nil {
		return nil, err
	}

	sc.Progress(2, articleSteps, "drafting")
	var draft strings.Builder
	resp, err := w.deps.Model.ChatStream(sc.Signal(), llm.UserPrompt(
		"You are a technical writer. Write the full article in markdown following the outline.",
		fmt.Sprintf("Topic: %s\n\nOutline:\n%s", topic, state.Outline),
	), func(chunk string) {
		draft.WriteString(chunk)
	})
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}
	usage = addUsage(usage, resp.Usage)
	sc.RecordCost(resp.Usage.Total(), resp.Usage.Cost)

	body := resp.Text
	if body == "" {
		body = draft.String()
	}

	if err := sc.Cancelled(); err != nil {
		return nil, err
	}

	sc.Progress(3, articleSteps, "saving")
	if err := writeContent(w.deps.ContentDir, state.Path, body); err != nil {
		return nil, err
	}

	return &skill.Result{
		Success: true,
		Data: map[string]any{
			"path":  state.Path,
			"words": len(strings.Fields(body)),
		},
		TokensUsed: usage.Total(),
		Cost:       usage.Cost,
		NextSteps: []string{
			"Review the draft at " + state.Path,
			"Ask to publish " + state.Path + " when ready",
		},
	}, nil
}

func articlePath(params map[string]any, topic, taskID string) string {
	if p, ok := skill.StringParam(params, skill.ParamPath); ok {
		return p
	}
	if entities, ok := params[skill.ParamEntities].([]string); ok && len(entities) > 0 {
		if slug := slugify(entities[0]); slug != "" {
			return "posts/" + slug + ".md"
		}
	}
	if slug := slugify(topic); slug != "" {
		return "posts/" + slug + ".md"
	}
	id := taskID
	if len(id) > 8 {
		id = id[:8]
	}
	return "posts/post-" + id + ".md"
}

func addUsage(a, b llm.Usage) llm.Usage {
	return llm.Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		Cost:         a.Cost + b.Cost,
	}
}
