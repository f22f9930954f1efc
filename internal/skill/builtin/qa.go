package builtin

import (
	"fmt"

	"github.com/ShayCichocki/quill/internal/llm"
	"github.com/ShayCichocki/quill/internal/skill"
)

// summarizer condenses a content file, or the request text when no path is given.
type summarizer struct {
	deps Deps
}

func (s *summarizer) Execute(sc *skill.Context, params map[string]any) (*skill.Result, error) {
	input, _ := skill.StringParam(params, skill.ParamInput)
	source := input
	data := map[string]any{}

	if path, ok := skill.StringParam(params, skill.ParamPath); ok {
		// Read under the lock so a concurrent writer cannot hand us half a file.
		if !sc.AcquireLock(path) {
			return nil, fmt.Errorf("summarize: %s is being edited by another task", path)
		}
		body, err := readContent(s.deps.ContentDir, path)
		sc.ReleaseLock(path)
		if err != nil {
			return nil, err
		}
		source = body
		data["path"] = path
	}
	if source == "" {
		return nil, fmt.Errorf("summarize: nothing to summarize")
	}

	sc.Progress(1, 1, "summarizing")
	prompt := "Summarize the following content in a short paragraph"
	if lang, ok := skill.StringParam(params, skill.ParamLanguage); ok {
		prompt += " (answer in language code " + lang + ")"
	}
	resp, err := s.deps.Model.Chat(sc.Signal(), llm.UserPrompt("", prompt+":\n\n"+source))
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	sc.RecordCost(resp.Usage.Total(), resp.Usage.Cost)

	data["summary"] = resp.Text
	return &skill.Result{
		Success:    true,
		Data:       data,
		TokensUsed: resp.Usage.Total(),
		Cost:       resp.Usage.Cost,
	}, nil
}

// answerer handles GENERAL_QA with a single chat call.
type answerer struct {
	deps Deps
}

func (a *answerer) Execute(sc *skill.Context, params map[string]any) (*skill.Result, error) {
	question, ok := skill.StringParam(params, skill.ParamInput)
	if !ok {
		return nil, fmt.Errorf("general_qa: no question given")
	}

	resp, err := a.deps.Model.Chat(sc.Signal(), llm.UserPrompt(
		"You are a helpful writing assistant. Answer concisely.", question))
	if err != nil {
		return nil, fmt.Errorf("general_qa: %w", err)
	}
	sc.RecordCost(resp.Usage.Total(), resp.Usage.Cost)

	return &skill.Result{
		Success:    true,
		Data:       map[string]any{"answer": resp.Text},
		TokensUsed: resp.Usage.Total(),
		Cost:       resp.Usage.Cost,
	}, nil
}
