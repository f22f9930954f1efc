package intent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/quill/internal/llm"
	"github.com/ShayCichocki/quill/pkg/models"
)

type fakeModel struct {
	label string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeModel) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.label}, nil
}

func (f *fakeModel) ChatStream(ctx context.Context, req llm.Request, _ func(string)) (*llm.Response, error) {
	return f.Chat(ctx, req)
}

type fakeSkills []SkillTrigger

func (f fakeSkills) SkillTriggers() []SkillTrigger { return f }

func TestClassify_ChineseWriteArticle(t *testing.T) {
	c := NewClassifier(Options{})

	got := c.Classify(context.Background(), "写一篇关于AI的文章")

	assert.Equal(t, models.IntentWriteArticle, got.Intent.Type)
	assert.GreaterOrEqual(t, got.Intent.Confidence, 0.5)
	assert.InDelta(t, 0.85, got.Intent.Confidence, 1e-9)
	assert.Equal(t, models.SourceRule, got.Intent.Source)
	assert.Equal(t, []string{"AI"}, got.Intent.Entities)
}

func TestClassify_RuleTier(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.IntentType
	}{
		{"english article", "Please write a blog post about Rust", models.IntentWriteArticle},
		{"summarize", "总结一下 posts/launch.md", models.IntentSummarize},
		{"summarize english", "Summarize this thread for me", models.IntentSummarize},
		{"translate", "把 posts/hello.md 翻译成英文", models.IntentTranslate},
		{"outline", "给我列一个大纲", models.IntentGenerateOutline},
		{"edit", "帮我润色一下这段", models.IntentEditContent},
		{"publish", "publish the post about caching", models.IntentPublishPost},
		{"search", "搜索关于数据库的旧文章", models.IntentSearchContent},
	}

	c := NewClassifier(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.text)
			assert.Equal(t, tt.want, got.Intent.Type)
			assert.Equal(t, models.SourceRule, got.Intent.Source)
			assert.GreaterOrEqual(t, got.Intent.Confidence, 0.5)
			assert.LessOrEqual(t, got.Intent.Confidence, models.MaxConfidence)
		})
	}
}

func TestClassify_WriteRequestAboutAnotherAction(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.IntentType
	}{
		{"topic mentions optimizing", "写一篇关于如何优化数据库查询的文章", models.IntentWriteArticle},
		{"topic mentions a launch", "写一篇关于新品发布会的文章", models.IntentWriteArticle},
		{"topic mentions a summary", "帮我写一篇总结2024年的博客", models.IntentWriteArticle},
		{"english topic mentions editing", "Write an article about how to edit video", models.IntentWriteArticle},
		{"english topic mentions publishing", "please write a post on publishing workflows", models.IntentWriteArticle},
		{"translate what was written", "把我写的文章翻译成英文", models.IntentTranslate},
		{"write then translate", "写一篇文章并翻译成英文", models.IntentTranslate},
		{"outline", "给我列一个大纲", models.IntentGenerateOutline},
		{"outline written", "写一个大纲", models.IntentGenerateOutline},
		{"polish my article", "帮我润色一下我写的文章", models.IntentEditContent},
		{"publish", "发布文章到博客", models.IntentPublishPost},
	}

	c := NewClassifier(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.text)
			assert.Equal(t, tt.want, got.Intent.Type)
			assert.GreaterOrEqual(t, got.Intent.Confidence, 0.6)
		})
	}
}

func TestRuleMatch_Formula(t *testing.T) {
	r := Rule{Intent: models.IntentSummarize, Patterns: []string{`总结`}, Keywords: []string{"一下"}}
	require.NoError(t, r.Compile())

	// 2 of 4 runes matched, no keyword.
	conf, ok := r.Match("总结文章")
	require.True(t, ok)
	assert.InDelta(t, 0.6, conf, 1e-9)

	// 2 of 4 runes matched, keyword bonus.
	conf, ok = r.Match("总结一下")
	require.True(t, ok)
	assert.InDelta(t, 0.75, conf, 1e-9)

	_, ok = r.Match("翻译")
	assert.False(t, ok)
}

func TestRuleMatch_FullSpanWithKeyword(t *testing.T) {
	r := Rule{Intent: models.IntentSummarize, Patterns: []string{`.+`}, Keywords: []string{"tl;dr"}}
	require.NoError(t, r.Compile())

	conf, ok := r.Match("tl;dr")
	require.True(t, ok)
	assert.InDelta(t, 0.85, conf, 1e-9)
	assert.LessOrEqual(t, conf, models.MaxConfidence)
}

func TestClassify_SkillTier(t *testing.T) {
	skills := fakeSkills{
		{Skill: "seo", Intent: models.IntentEditContent, Pattern: regexp.MustCompile(`(?i)\bseo\b`)},
		{Skill: "seo-keywords", Intent: models.IntentSearchContent, Keywords: []string{"keyword research"}},
	}
	model := &fakeModel{label: "GENERAL_QA"}
	c := NewClassifier(Options{Skills: skills, Model: model})

	got := c.Classify(context.Background(), "improve seo metadata")
	assert.Equal(t, models.IntentEditContent, got.Intent.Type)
	assert.Equal(t, SkillPatternConfidence, got.Intent.Confidence)
	assert.Equal(t, models.SourceSkill, got.Intent.Source)

	got = c.Classify(context.Background(), "do keyword research on seo")
	assert.Equal(t, models.IntentEditContent, got.Intent.Type, "first matching skill wins")
	require.GreaterOrEqual(t, len(got.Candidates), 2)
	assert.Equal(t, models.IntentSearchContent, got.Candidates[0].Type)
	assert.Equal(t, SkillKeywordConfidence, got.Candidates[0].Confidence)

	assert.Zero(t, model.calls, "model tier must not run when skills match")
}

func TestClassify_ModelTier(t *testing.T) {
	model := &fakeModel{label: "translate\nbecause the user asks"}
	c := NewClassifier(Options{Model: model})

	got := c.Classify(context.Background(), "make this readable for my Tokyo readers")
	assert.Equal(t, models.IntentTranslate, got.Intent.Type)
	assert.Equal(t, ModelConfidence, got.Intent.Confidence)
	assert.Equal(t, models.SourceModel, got.Intent.Source)
	assert.Equal(t, 1, model.calls)
	assert.Contains(t, model.last.System, "WRITE_ARTICLE")
	assert.Contains(t, model.last.Messages[0].Content, "Tokyo readers")
}

func TestClassify_ModelLabelOutsideSetDiscarded(t *testing.T) {
	c := NewClassifier(Options{Model: &fakeModel{label: "ORDER_PIZZA"}})

	got := c.Classify(context.Background(), "hmm")
	assert.Equal(t, models.IntentGeneralQA, got.Intent.Type)
	assert.Equal(t, DefaultConfidence, got.Intent.Confidence)
	assert.Equal(t, models.SourceDefault, got.Intent.Source)
}

func TestClassify_ModelErrorSwallowed(t *testing.T) {
	c := NewClassifier(Options{Model: &fakeModel{err: errors.New("overloaded")}})

	got := c.Classify(context.Background(), "hmm")
	assert.Equal(t, models.IntentGeneralQA, got.Intent.Type)
	assert.Equal(t, DefaultConfidence, got.Intent.Confidence)
}

func TestClassify_CandidatesRanked(t *testing.T) {
	c := NewClassifier(Options{})

	// Matches both the translate and the write rules.
	got := c.Classify(context.Background(), "写一篇文章并翻译成英文")
	assert.Equal(t, models.IntentTranslate, got.Intent.Type, "first rule in order wins")

	top := got.Top(3)
	require.Len(t, top, 3)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Confidence, top[i].Confidence)
	}
	assert.Equal(t, models.IntentGeneralQA, got.Candidates[len(got.Candidates)-1].Type)
	assert.Equal(t, "en", got.Intent.Parameters["language"])
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"wiki link", "link [[Go Memory Model]] here", []string{"Go Memory Model"}},
		{"brackets", "see [draft] and 【草稿】 and 《三体》", []string{"draft", "草稿", "三体"}},
		{"quotes", `rename "Old Title" to “新标题”`, []string{"Old Title", "新标题"}},
		{"code", "run `go test` then\n```sh\nmake\n```", []string{"go test", "make"}},
		{"capitalised and acronym", "compare New York with AWS", []string{"New York", "AWS"}},
		{"dedupe", "AI and AI again", []string{"AI"}},
		{"apostrophe ignored", "don't split it's", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEntities(tt.text))
		})
	}
}

func TestExtractParameters(t *testing.T) {
	assert.Equal(t,
		map[string]string{"path": "posts/hello.md", "language": "en"},
		ExtractParameters("translate posts/hello.md into English"))
	assert.Equal(t,
		map[string]string{"language": "ja"},
		ExtractParameters("翻译成日语"))
	assert.Nil(t, ExtractParameters("hello"))
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - intent: PUBLISH_POST
    patterns: ["(?i)\\bship it\\b"]
    keywords: ["ship it"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	c := NewClassifier(Options{Rules: rules})
	got := c.Classify(context.Background(), "ship it")
	assert.Equal(t, models.IntentPublishPost, got.Intent.Type)
	assert.InDelta(t, 0.85, got.Intent.Confidence, 1e-9)
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - intent: NOPE\n    patterns: [x]\n"))
	assert.ErrorContains(t, err, "unknown intent")

	_, err = ParseRules([]byte("rules:\n  - intent: SUMMARIZE\n    patterns: ['(']\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("rules: []\n"))
	assert.Error(t, err)
}
