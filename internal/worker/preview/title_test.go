package preview

import (
	"strings"
	"testing"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "基本的なtitle要素",
			html: `<html><head><title>Example Page</title></head><body></body></html>`,
			want: "Example Page",
		},
		{
			name: "日本語タイトル",
			html: `<html><head><meta charset="utf-8"><title>ボルダリング交流会のご案内</title></head></html>`,
			want: "ボルダリング交流会のご案内",
		},
		{
			name: "HTMLエンティティをデコードする",
			html: `<title>Climbing &amp; Bouldering</title>`,
			want: "Climbing & Bouldering",
		},
		{
			name: "前後と連続する空白を正規化する",
			html: "<title>  Hello\n\t  World  </title>",
			want: "Hello World",
		},
		{
			name: "title要素がない場合は空文字列",
			html: `<html><head></head><body>content</body></html>`,
			want: "",
		},
		{
			name: "空のtitle要素",
			html: `<html><head><title></title></head></html>`,
			want: "",
		},
		{
			name: "body内のtitle要素は対象外",
			html: `<html><head></head><body><svg><title>icon label</title></svg></body></html>`,
			want: "",
		},
		{
			name: "閉じタグのない不正なHTML",
			html: `<html><head><title>unclosed title`,
			want: "unclosed title",
		},
		{
			name: "head要素がなくてもtitleを抽出する",
			html: `<title>Bare Title</title>`,
			want: "Bare Title",
		},
		{
			name: "空の入力",
			html: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTitle([]byte(tt.html))
			if got != tt.want {
				t.Errorf("ExtractTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTitle_TruncatesLongTitle(t *testing.T) {
	long := strings.Repeat("あ", 250)
	html := "<title>" + long + "</title>"

	got := ExtractTitle([]byte(html))

	// 200文字（ルーン単位）で切り詰められること
	if want := strings.Repeat("あ", 200); got != want {
		t.Errorf("切り詰め後の長さ = %d, want 200", len([]rune(got)))
	}
}

func TestExtractTitle_KeepsLiteralMarkupInsideTitle(t *testing.T) {
	// title要素の中身はRCDATAとして扱われ、タグは文字として残る。
	// 除去は保存前のサニタイズに任せる。
	html := `<title>Hello <b>World</b></title>`

	got := ExtractTitle([]byte(html))
	if got != "Hello <b>World</b>" {
		t.Errorf("ExtractTitle() = %q, want %q", got, "Hello <b>World</b>")
	}
}
