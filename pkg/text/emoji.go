// Package text provides the emoji-stripping utilities used to sanitise
// danmaku content and LLM output before it reaches the TTS engine.
//
// TTS backends cannot pronounce emoji, so every text fragment crosses
// [RemoveEmojis] on its way to synthesis, and events whose content is
// nothing but emoji are dropped by the orchestrator via
// [IsPureEmojiOrEmpty]. The ranges are deliberately conservative to avoid
// matching CJK text.
package text

import (
	"strings"
	"unicode"
)

// emojiTable covers the emoji blocks stripped from TTS input:
// Miscellaneous Symbols + Dingbats (U+2600–U+27BF), regional-indicator
// flags (U+1F1E0–U+1F1FF), and the pictograph planes from Miscellaneous
// Symbols and Pictographs through Symbols and Pictographs Extended-A
// (U+1F300–U+1FAFF).
var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2600, Hi: 0x27BF, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1F1E0, Hi: 0x1F1FF, Stride: 1},
		{Lo: 0x1F300, Hi: 0x1FAFF, Stride: 1},
	},
}

// isJoiner reports whether r is a variation selector (U+FE00–U+FE0F) or the
// zero-width joiner (U+200D). These combine with emoji and are stripped in a
// second pass so a lone selector never survives on its own.
func isJoiner(r rune) bool {
	return (r >= 0xFE00 && r <= 0xFE0F) || r == 0x200D
}

// RemoveEmojis returns s with all emoji code points and their associated
// variation selectors / zero-width joiners removed, trimmed of surrounding
// whitespace.
func RemoveEmojis(s string) string {
	if s == "" {
		return s
	}
	out := strings.Map(func(r rune) rune {
		if unicode.Is(emojiTable, r) {
			return -1
		}
		return r
	}, s)
	out = strings.Map(func(r rune) rune {
		if isJoiner(r) {
			return -1
		}
		return r
	}, out)
	return strings.TrimSpace(out)
}

// IsPureEmojiOrEmpty reports whether s is empty, whitespace-only, or
// consists entirely of emoji. Such content carries nothing a TTS engine
// could speak.
func IsPureEmojiOrEmpty(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	return RemoveEmojis(s) == ""
}
