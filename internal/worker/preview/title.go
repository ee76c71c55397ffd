package preview

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// maxTitleLength は保存するタイトルの最大文字数。
// 超過分は切り詰める（表示用スナップショットであり全文は不要）。
const maxTitleLength = 200

// ExtractTitle はHTMLのheadタグからtitle要素のテキストを抽出する。
// title要素が見つからない場合は空文字列を返す。
// 連続する空白は1つにまとめられ、最大文字数で切り詰められる。
func ExtractTitle(htmlBody []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inTitle := false
	var title strings.Builder

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return normalizeTitle(title.String())

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "title" {
				inTitle = true
				continue
			}
			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				// （SVG内のtitle要素などを拾わない）
				return normalizeTitle(title.String())
			}

		case html.TextToken:
			if inTitle {
				title.Write(tokenizer.Text())
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				return normalizeTitle(title.String())
			}
		}
	}
}

// normalizeTitle は連続する空白・改行を1つの空白にまとめ、
// 前後の空白を除去し、最大文字数で切り詰める。
func normalizeTitle(raw string) string {
	title := strings.Join(strings.Fields(raw), " ")

	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength])
	}

	return title
}
