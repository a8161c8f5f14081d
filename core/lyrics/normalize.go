package lyrics

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9\s']`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// Sanitize 小写, 只保留字母数字、空白和撇号, 合并空白
func Sanitize(s string) string {
	s = strings.ToLower(s)
	s = disallowedChars.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokens 规范化后按空格切分
func Tokens(s string) []string {
	clean := Sanitize(s)
	if clean == "" {
		return nil
	}
	return strings.Split(clean, " ")
}

// SplitLines 去掉首尾空白并丢弃空行
func SplitLines(text string) []string {
	lines := lo.Map(strings.Split(text, "\n"), func(line string, _ int) string {
		return strings.TrimSpace(line)
	})
	return lo.Filter(lines, func(line string, _ int) bool {
		return line != ""
	})
}

// HashLyrics 歌词原文的 sha1
func HashLyrics(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
