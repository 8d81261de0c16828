package character

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ReplaceName は text 中の oldName を newName に置き換えます。
// 大文字小文字は区別せず、単語単位でのみ一致させます（"Aria" は "Ariadne" に一致しない）。
// oldName は正規表現として解釈されないようエスケープされます。
func ReplaceName(text, oldName, newName string) string {
	oldName = strings.TrimSpace(oldName)
	if oldName == "" || text == "" {
		return text
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(oldName))
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		if !isBoundary(text, m[0], m[1]) {
			continue
		}
		sb.WriteString(text[last:m[0]])
		sb.WriteString(newName)
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func isBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Rename はキャラクター名を変更し、バックストーリーとクエストに含まれる旧名も書き換えます。
// 会話履歴など Character の外にあるテキストは呼び出し側が ReplaceName で揃えます。
func (c *Character) Rename(newName string) (oldName string) {
	oldName = c.Name
	c.Name = newName
	c.Backstory = ReplaceName(c.Backstory, oldName, newName)
	for i := range c.Quests {
		c.Quests[i].Title = ReplaceName(c.Quests[i].Title, oldName, newName)
		c.Quests[i].Description = ReplaceName(c.Quests[i].Description, oldName, newName)
	}
	return oldName
}
