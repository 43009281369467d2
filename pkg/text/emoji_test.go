package text_test

import (
	"testing"

	"github.com/lumehara/danmakucast/pkg/text"
)

func TestRemoveEmojis(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii", "hello", "hello"},
		{"plain chinese", "你好呀", "你好呀"},
		{"trailing emoji", "hi😀", "hi"},
		{"emoji only", "😀🎉", ""},
		{"mixed cjk and emoji", "主播好棒👍🎵", "主播好棒"},
		{"variation selector", "天气☀️不错", "天气不错"},
		{"zwj sequence", "👨‍👩‍👧", ""},
		{"flags", "🇨🇳加油", "加油"},
		{"dingbats", "✂✈✉", ""},
		{"whitespace trimmed", "  你好 😀 ", "你好"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := text.RemoveEmojis(tc.in); got != tc.want {
				t.Errorf("RemoveEmojis(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestIsPureEmojiOrEmpty(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"😀😀", true},
		{"🎉🎵👍", true},
		{"hi😀", false},
		{"你好", false},
		{"☀️", true},
	}
	for _, tc := range cases {
		if got := text.IsPureEmojiOrEmpty(tc.in); got != tc.want {
			t.Errorf("IsPureEmojiOrEmpty(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
