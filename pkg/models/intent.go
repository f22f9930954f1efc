package models

import "strings"

// IntentType is the classified purpose of a request.
type IntentType string

const (
	// IntentWriteArticle drafts a new article.
	IntentWriteArticle IntentType = "WRITE_ARTICLE"
	// IntentEditContent revises existing content.
	IntentEditContent IntentType = "EDIT_CONTENT"
	// IntentSummarize condenses content.
	IntentSummarize IntentType = "SUMMARIZE"
	// IntentTranslate translates content into another language.
	IntentTranslate IntentType = "TRANSLATE"
	// IntentGenerateOutline produces an outline for a topic.
	IntentGenerateOutline IntentType = "GENERATE_OUTLINE"
	// IntentPublishPost publishes a finished post.
	IntentPublishPost IntentType = "PUBLISH_POST"
	// IntentSearchContent looks up existing content.
	IntentSearchContent IntentType = "SEARCH_CONTENT"
	// IntentGeneralQA is the fallback question-and-answer intent.
	IntentGeneralQA IntentType = "GENERAL_QA"
)

// MaxConfidence is the ceiling for any intent confidence.
const MaxConfidence = 0.95

// AllIntentTypes returns the enumerated intent set.
func AllIntentTypes() []IntentType {
	return []IntentType{
		IntentWriteArticle,
		IntentEditContent,
		IntentSummarize,
		IntentTranslate,
		IntentGenerateOutline,
		IntentPublishPost,
		IntentSearchContent,
		IntentGeneralQA,
	}
}

// Valid returns true if the intent type is in the enumerated set.
func (t IntentType) Valid() bool {
	for _, known := range AllIntentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseIntentType normalizes a label such as "write_article" or " WRITE_ARTICLE ".
// The second return value is false if the label is not an enumerated intent.
func ParseIntentType(label string) (IntentType, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(label))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	t := IntentType(normalized)
	if !t.Valid() {
		return "", false
	}
	return t, true
}

// IntentSource records which classification tier produced an intent.
type IntentSource string

const (
	SourceRule    IntentSource = "rule"
	SourceSkill   IntentSource = "skill"
	SourceModel   IntentSource = "model"
	SourceDefault IntentSource = "default"
)

// Intent is the immutable result of classifying a request.
type Intent struct {
	Type       IntentType        `json:"type"`
	Confidence float64           `json:"confidence"`
	Entities   []string          `json:"entities,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	RawText    string            `json:"raw_text"`
	Source     IntentSource      `json:"source"`
}

// NewIntent builds an intent with the confidence clamped to [0, MaxConfidence].
func NewIntent(t IntentType, confidence float64, raw string, source IntentSource) Intent {
	return Intent{
		Type:       t,
		Confidence: ClampConfidence(confidence),
		RawText:    raw,
		Source:     source,
	}
}

// ClampConfidence bounds a confidence score to [0, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
