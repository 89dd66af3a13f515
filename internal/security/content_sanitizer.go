// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は支出の説明文からHTMLを取り除き、プレーンテキストとして保存させる。
// 説明文はWeb UIとターミナルの両方に表示されるため、マークアップは一切残さない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のテキストからマークアップを除去する。
// bluemondayのStrictPolicyを使用するため、すべてのタグと属性が取り除かれる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer は新しいTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体は元の文字に戻す（保存値は表示側でエスケープする）。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
