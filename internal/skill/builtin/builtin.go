// Package builtin provides the skills shipped with quill.
package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ShayCichocki/quill/internal/llm"
	"github.com/ShayCichocki/quill/internal/skill"
	"github.com/ShayCichocki/quill/pkg/models"
)

// Deps are the collaborators of the built-in skills.
type Deps struct {
	// Model performs generation; it must not be nil.
	Model llm.Client
	// ContentDir is the root that content paths are relative to.
	ContentDir string
}

// Register adds every built-in skill to the registry.
func Register(reg *skill.Registry, deps Deps) error {
	if deps.Model == nil {
		return fmt.Errorf("builtin skills: model client is required")
	}
	if deps.ContentDir == "" {
		deps.ContentDir = "content"
	}

	skills := []skill.Skill{
		{
			Name:        "write_article",
			Intent:      models.IntentWriteArticle,
			Description: "Outline and draft a new markdown article",
			Triggers:    skill.Triggers{Keywords: []string{"draft", "起草"}},
			Handler:     &articleWriter{deps: deps},
		},
		{
			Name:        "summarize",
			Intent:      models.IntentSummarize,
			Description: "Summarize a markdown file or the given text",
			Triggers:    skill.Triggers{Keywords: []string{"gist", "要点"}},
			Handler:     &summarizer{deps: deps},
		},
		{
			Name:        "general_qa",
			Intent:      models.IntentGeneralQA,
			Description: "Answer a general question",
			Handler:     &answerer{deps: deps},
		},
	}
	for _, s := range skills {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// contentPath resolves a content-relative path, rejecting escapes from the root.
func contentPath(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the content directory", rel)
	}
	return filepath.Join(root, clean), nil
}

func readContent(root, rel string) (string, error) {
	full, err := contentPath(root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

func writeContent(root, rel, body string) error {
	full, err := contentPath(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create content directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(body), 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify keeps ASCII letters and digits, joined by dashes.
func slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return slug
}
