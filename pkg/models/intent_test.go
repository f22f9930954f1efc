package models

import "testing"

func TestParseIntentType(t *testing.T) {
	tests := []struct {
		label  string
		want   IntentType
		wantOK bool
	}{
		{"WRITE_ARTICLE", IntentWriteArticle, true},
		{"write_article", IntentWriteArticle, true},
		{"  summarize \n", IntentSummarize, true},
		{"general-qa", IntentGeneralQA, true},
		{"generate outline", IntentGenerateOutline, true},
		{"DELETE_EVERYTHING", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseIntentType(tt.label)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseIntentType(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.7, 0.7},
		{0.95, 0.95},
		{1.2, 0.95},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewIntent_ClampsConfidence(t *testing.T) {
	in := NewIntent(IntentWriteArticle, 1.1, "text", SourceRule)
	if in.Confidence != MaxConfidence {
		t.Errorf("Confidence = %v, want %v", in.Confidence, MaxConfidence)
	}
	if in.Source != SourceRule || in.RawText != "text" {
		t.Errorf("unexpected intent %+v", in)
	}
}
