package intent

import (
	"regexp"
	"sort"
	"strings"
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
	wikiLinkRe   = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

	// Cues whose first submatch is the entity.
	cueRes = []*regexp.Regexp{
		regexp.MustCompile(`\[([^\[\]]+)\]`),
		regexp.MustCompile(`【([^】]+)】`),
		regexp.MustCompile(`《([^》]+)》`),
		regexp.MustCompile(`"([^"\n]+)"`),
		regexp.MustCompile(`“([^”\n]+)”`),
		regexp.MustCompile(`「([^」\n]+)」`),
		regexp.MustCompile(`(?:^|\s)'([^'\n]+)'(?:$|[\s.,!?;:])`),
		regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\b`),
		regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,})\b`),
	}

	markdownPathRe = regexp.MustCompile(`[\w./-]+\.md\b`)
	targetLangRe   = regexp.MustCompile(`(?i)(?:\binto\b|\bto\b|成|为)\s*(english|chinese|japanese|french|german|spanish|korean|英文|英语|中文|汉语|日文|日语|法语|德语|西班牙语|韩语)`)
)

var languageCodes = map[string]string{
	"english": "en", "英文": "en", "英语": "en",
	"chinese": "zh", "中文": "zh", "汉语": "zh",
	"japanese": "ja", "日文": "ja", "日语": "ja",
	"french": "fr", "法语": "fr",
	"german": "de", "德语": "de",
	"spanish": "es", "西班牙语": "es",
	"korean": "ko", "韩语": "ko",
}

type found struct {
	pos   int
	value string
}

// ExtractEntities returns structural references in text, ordered by first
// appearance and de-duplicated.
func ExtractEntities(text string) []string {
	var all []found

	// Code spans are consumed first so their content is not re-scanned.
	text = collect(text, fencedCodeRe, &all)
	text = collect(text, inlineCodeRe, &all)
	text = collect(text, wikiLinkRe, &all)
	for _, re := range cueRes {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			all = append(all, found{pos: m[2], value: text[m[2]:m[3]]})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	seen := make(map[string]bool, len(all))
	var out []string
	for _, f := range all {
		v := strings.TrimSpace(f.value)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// collect records every match of re and blanks the matched bytes so later
// extractors skip them. Byte offsets are preserved.
func collect(text string, re *regexp.Regexp, into *[]found) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	b := []byte(text)
	for _, m := range matches {
		*into = append(*into, found{pos: m[2], value: text[m[2]:m[3]]})
		for i := m[0]; i < m[1]; i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

// ExtractParameters returns the markdown path and target language mentioned in text.
func ExtractParameters(text string) map[string]string {
	params := make(map[string]string)
	if p := markdownPathRe.FindString(text); p != "" {
		params["path"] = p
	}
	if m := targetLangRe.FindStringSubmatch(text); m != nil {
		if code, ok := languageCodes[strings.ToLower(m[1])]; ok {
			params["language"] = code
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
