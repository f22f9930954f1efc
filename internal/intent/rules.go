package intent

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/quill/pkg/models"
)

const (
	ruleBase         = 0.5
	ruleRatioWeight  = 0.2
	ruleKeywordBonus = 0.15
)

// Rule maps a set of patterns to an intent.
type Rule struct {
	Intent   models.IntentType `yaml:"intent"`
	Patterns []string          `yaml:"patterns"`
	// Keywords earn the keyword bonus when any appears in the input.
	Keywords []string `yaml:"keywords"`

	compiled []*regexp.Regexp
}

// Compile validates the intent and compiles the patterns.
func (r *Rule) Compile() error {
	if !r.Intent.Valid() {
		return fmt.Errorf("unknown intent %q", r.Intent)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %s has no patterns", r.Intent)
	}
	r.compiled = make([]*regexp.Regexp, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("rule %s: pattern %q: %w", r.Intent, p, err)
		}
		r.compiled = append(r.compiled, re)
	}
	return nil
}

// Match returns the rule confidence for text, or false if no pattern matches.
// The longest matching span across patterns determines the match ratio.
func (r *Rule) Match(text string) (float64, bool) {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0, false
	}

	longest := -1
	for _, re := range r.compiled {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if n := utf8.RuneCountInString(text[loc[0]:loc[1]]); n > longest {
			longest = n
		}
	}
	if longest < 0 {
		return 0, false
	}

	conf := ruleBase + float64(longest)/float64(total)*ruleRatioWeight
	if r.hasKeyword(text) {
		conf += ruleKeywordBonus
	}
	return models.ClampConfidence(conf), true
}

func (r *Rule) hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in rule set, compiled, in evaluation order.
func DefaultRules() []Rule {
	rules := []Rule{
		// A request that is wholly "write an article about X" stays a write
		// even when X names another action (优化, 发布, 总结, edit, publish).
		{
			Intent: models.IntentWriteArticle,
			Patterns: []string{
				`^.{0,6}?(写|撰写|创作|起草)(一篇|一份|篇|一个|个).{0,30}?(文章|博客|博文|稿子|帖子)\s*[。！!.]?$`,
				`(?i)^\s*(please\s+)?(write|draft|compose)\s+(me\s+)?(an?|one)\s+(new\s+)?(blog\s+post|article|post|blog|essay)\s+(about|on)\b[^,;]*$`,
			},
			Keywords: []string{"写一篇", "写篇", "write an article", "write a blog post", "new post"},
		},
		{
			Intent: models.IntentTranslate,
			Patterns: []string{
				`(翻译|译成|译为)`,
				`(?i)\btranslat(e|ion)\b(.{0,40}?\b(into|to)\s+\w+)?`,
			},
			Keywords: []string{"翻译成", "翻译为", "translate into", "translate to"},
		},
		{
			Intent: models.IntentSummarize,
			Patterns: []string{
				`(总结|摘要|概括|归纳)(一下)?`,
				`(?i)\b(summari[sz]e|summary|tl;?dr|sum up)\b`,
			},
			Keywords: []string{"总结一下", "写个摘要", "summarize this", "give me a summary"},
		},
		{
			Intent: models.IntentGenerateOutline,
			Patterns: []string{
				`(列|写|生成|做)?(一个|一份|个)?(大纲|提纲|目录结构)`,
				`(?i)\b(outline|table of contents)\b`,
			},
			Keywords: []string{"生成大纲", "列个提纲", "create an outline", "draft an outline"},
		},
		{
			Intent: models.IntentEditContent,
			Patterns: []string{
				`(修改|编辑|润色|改写|校对|优化)(一下)?.{0,20}?(文章|段落|内容|稿子|这篇)?`,
				`(?i)\b(edit|revise|rewrite|proofread|polish)\b`,
			},
			Keywords: []string{"润色一下", "帮我改", "proofread", "fix the typos"},
		},
		{
			Intent: models.IntentPublishPost,
			Patterns: []string{
				`(发布|发表|上线|推送).{0,20}?(文章|博客|博文)?`,
				`(?i)\b(publish|deploy|go live)\b`,
			},
			Keywords: []string{"发布文章", "发布到博客", "publish the post", "publish this"},
		},
		{
			Intent: models.IntentWriteArticle,
			Patterns: []string{
				`(写|撰写|创作|起草)(一篇|一份|篇|个)?.{0,30}?(文章|博客|博文|稿子|帖子)`,
				`(?i)\b(write|draft|compose|author)\b.{0,40}?\b(article|post|blog|essay|story)\b`,
			},
			Keywords: []string{"写一篇", "写篇", "write an article", "write a blog post", "new post"},
		},
		{
			Intent: models.IntentSearchContent,
			Patterns: []string{
				`(搜索|查找|查一下|找一下|检索)`,
				`(?i)\b(search|find|look up|look for)\b`,
			},
			Keywords: []string{"搜索文章", "找一下之前", "search for", "find posts"},
		},
	}
	for i := range rules {
		if err := rules[i].Compile(); err != nil {
			panic(err)
		}
	}
	return rules
}

// ruleFile is the YAML layout of a rule override file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and compiles rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and compiles rules from YAML.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("parse rules: no rules defined")
	}
	for i := range f.Rules {
		if err := f.Rules[i].Compile(); err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
	}
	return f.Rules, nil
}
