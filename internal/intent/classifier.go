// Package intent classifies natural-language requests into intents.
//
// Classification runs in tiers and the first tier that produces an intent
// wins: deterministic rules, then registered skill triggers, then a
// few-shot language-model request, then the GENERAL_QA default.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/ShayCichocki/quill/internal/llm"
	"github.com/ShayCichocki/quill/pkg/models"
)

// Fixed confidences of the non-rule tiers.
const (
	SkillKeywordConfidence = 0.75
	SkillPatternConfidence = 0.70
	ModelConfidence        = 0.70
	DefaultConfidence      = 0.40
)

// SkillTrigger describes how a registered skill recognises its requests.
type SkillTrigger struct {
	Skill    string
	Intent   models.IntentType
	Keywords []string
	Pattern  *regexp.Regexp
}

// SkillSource provides the triggers of registered skills.
type SkillSource interface {
	SkillTriggers() []SkillTrigger
}

// Classification is the result of Classify.
type Classification struct {
	// Intent is the winning intent.
	Intent models.Intent
	// Candidates holds the best intent per type seen across tiers, by confidence descending.
	Candidates []models.Intent
}

// Top returns up to n candidates.
func (c Classification) Top(n int) []models.Intent {
	if len(c.Candidates) < n {
		n = len(c.Candidates)
	}
	return c.Candidates[:n]
}

// Options configures a Classifier.
type Options struct {
	// Rules are evaluated in order; nil uses DefaultRules.
	Rules []Rule
	// Skills supplies the skill-capability tier; may be nil.
	Skills SkillSource
	// Model supplies the model tier; may be nil.
	Model  llm.Client
	Logger *slog.Logger
}

// Classifier maps text to an Intent.
type Classifier struct {
	rules  []Rule
	skills SkillSource
	model  llm.Client
	logger *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(opts Options) *Classifier {
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Classifier{
		rules:  opts.Rules,
		skills: opts.Skills,
		model:  opts.Model,
		logger: opts.Logger.With("component", "intent"),
	}
}

// Classify runs the tiers in order. It never fails: model errors fall through
// to the default intent.
func (c *Classifier) Classify(ctx context.Context, text string) Classification {
	text = strings.TrimSpace(text)
	var candidates []models.Intent

	chosen, ok := c.ruleTier(text, &candidates)
	if !ok {
		chosen, ok = c.skillTier(text, &candidates)
	}
	if !ok {
		chosen, ok = c.modelTier(ctx, text)
		if ok {
			candidates = append(candidates, chosen)
		}
	}
	def := models.NewIntent(models.IntentGeneralQA, DefaultConfidence, text, models.SourceDefault)
	candidates = append(candidates, def)
	if !ok {
		chosen = def
	}

	entities := ExtractEntities(text)
	params := ExtractParameters(text)
	chosen.Entities = entities
	chosen.Parameters = params

	result := Classification{Intent: chosen, Candidates: rank(candidates)}
	for i := range result.Candidates {
		result.Candidates[i].Entities = entities
		result.Candidates[i].Parameters = params
	}

	c.logger.Debug("classified",
		"intent", chosen.Type,
		"confidence", chosen.Confidence,
		"source", chosen.Source,
		"entities", len(entities))
	return result
}

// ruleTier evaluates every rule for the candidate list; the first matching rule wins.
func (c *Classifier) ruleTier(text string, candidates *[]models.Intent) (models.Intent, bool) {
	var first *models.Intent
	for i := range c.rules {
		conf, ok := c.rules[i].Match(text)
		if !ok {
			continue
		}
		in := models.NewIntent(c.rules[i].Intent, conf, text, models.SourceRule)
		*candidates = append(*candidates, in)
		if first == nil {
			first = &in
		}
	}
	if first == nil {
		return models.Intent{}, false
	}
	return *first, true
}

func (c *Classifier) skillTier(text string, candidates *[]models.Intent) (models.Intent, bool) {
	if c.skills == nil {
		return models.Intent{}, false
	}
	lower := strings.ToLower(text)

	var first *models.Intent
	for _, trig := range c.skills.SkillTriggers() {
		conf := 0.0
		for _, kw := range trig.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				conf = SkillKeywordConfidence
				break
			}
		}
		if conf == 0 && trig.Pattern != nil && trig.Pattern.MatchString(text) {
			conf = SkillPatternConfidence
		}
		if conf == 0 {
			continue
		}
		in := models.NewIntent(trig.Intent, conf, text, models.SourceSkill)
		*candidates = append(*candidates, in)
		if first == nil {
			first = &in
		}
	}
	if first == nil {
		return models.Intent{}, false
	}
	return *first, true
}

func (c *Classifier) modelTier(ctx context.Context, text string) (models.Intent, bool) {
	if c.model == nil || text == "" {
		return models.Intent{}, false
	}

	temp := 0.0
	req := llm.UserPrompt(classifySystemPrompt(), classifyUserPrompt(text))
	req.MaxTokens = 16
	req.Temperature = &temp

	resp, err := c.model.Chat(ctx, req)
	if err != nil {
		c.logger.Warn("model classification failed", "error", err)
		return models.Intent{}, false
	}
	label := llm.FirstLine(resp.Text)
	t, ok := models.ParseIntentType(label)
	if !ok {
		c.logger.Debug("discarding model label outside intent set", "label", label)
		return models.Intent{}, false
	}
	return models.NewIntent(t, ModelConfidence, text, models.SourceModel), true
}

// rank keeps the highest-confidence intent per type and sorts descending.
// Ties keep tier order.
func rank(in []models.Intent) []models.Intent {
	best := make(map[models.IntentType]int, len(in))
	var out []models.Intent
	for _, cand := range in {
		if i, ok := best[cand.Type]; ok {
			if cand.Confidence > out[i].Confidence {
				out[i] = cand
			}
			continue
		}
		best[cand.Type] = len(out)
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

var fewShot = []struct {
	text  string
	label models.IntentType
}{
	{"帮我写一篇介绍 Go 并发的博客", models.IntentWriteArticle},
	{"把这段话润色一下", models.IntentEditContent},
	{"Can you give me the gist of posts/launch.md?", models.IntentSummarize},
	{"把 posts/hello.md 翻译成英文", models.IntentTranslate},
	{"Plan the sections for a piece about vector databases", models.IntentGenerateOutline},
	{"Ship the draft about our Q3 roadmap", models.IntentPublishPost},
	{"Which of my notes mention Kubernetes?", models.IntentSearchContent},
	{"What is the difference between a mutex and a semaphore?", models.IntentGeneralQA},
}

func classifySystemPrompt() string {
	labels := make([]string, 0, len(models.AllIntentTypes()))
	for _, t := range models.AllIntentTypes() {
		labels = append(labels, string(t))
	}
	return "You classify requests sent to a content-authoring assistant.\n" +
		"Answer with exactly one label from this list and nothing else:\n" +
		strings.Join(labels, "\n")
}

func classifyUserPrompt(text string) string {
	var b strings.Builder
	for _, ex := range fewShot {
		fmt.Fprintf(&b, "Request: %s\nLabel: %s\n\n", ex.text, ex.label)
	}
	fmt.Fprintf(&b, "Request: %s\nLabel:", text)
	return b.String()
}
