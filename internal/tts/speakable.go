package tts

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlRe        = regexp.MustCompile(`https?://\S+`)

	markupReplacer = strings.NewReplacer(
		"*", " ", "_", " ", "#", " ", "~", " ", "|", " ",
		"<", " ", ">", " ", "\\", " ", "/", " ",
	)
)

// Speakable strips markdown, links, code and emoji from a reply so the voice
// reads only prose. Whitespace runs collapse to one space.
func Speakable(reply string) string {
	s := strings.TrimSpace(reply)
	if s == "" {
		return ""
	}
	s = codeBlockRe.ReplaceAllString(s, " ")
	s = inlineCodeRe.ReplaceAllString(s, " ")
	s = linkRe.ReplaceAllString(s, "$1")
	s = urlRe.ReplaceAllString(s, " ")
	s = markupReplacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	emitSpace := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			emitSpace()
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3' || unicode.IsControl(r):
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case strings.ContainsRune(".,!?:;'\"-()", r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			emitSpace()
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}
