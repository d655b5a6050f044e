// Package textclean turns raw forum reply markup into plain prompt text.
package textclean

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NoiseLimit is the longest cleaned body, in runes, still treated as noise.
const NoiseLimit = 5

// Clean strips markup from a reply body. Quoted replies are dropped along
// with scripts and styles. Emoji images are kept as their alt label: "[label]"
// alts stay as is, "#label#" alts become "(label)". Whitespace runs collapse
// to one space.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(raw))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapse(sb.String())
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Blockquote:
				if tt == html.StartTagToken {
					skip++
				}
				sb.WriteByte(' ')
			case atom.Img:
				if label := emojiLabel(tok); label != "" && skip == 0 {
					sb.WriteString(" " + label + " ")
				}
			case atom.Br, atom.P, atom.Div, atom.Li:
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Blockquote:
				if skip > 0 {
					skip--
				}
				sb.WriteByte(' ')
			case atom.P, atom.Div, atom.Li:
				sb.WriteByte(' ')
			}
		}
	}
}

func emojiLabel(tok html.Token) string {
	for _, a := range tok.Attr {
		if a.Key != "alt" {
			continue
		}
		alt := strings.TrimSpace(a.Val)
		switch {
		case alt == "":
			return ""
		case strings.HasPrefix(alt, "[") && strings.HasSuffix(alt, "]"):
			return alt
		case len(alt) > 2 && strings.HasPrefix(alt, "#") && strings.HasSuffix(alt, "#"):
			return "(" + strings.Trim(alt, "#") + ")"
		default:
			return "[" + alt + "]"
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsNoise reports whether a cleaned body is too short to be worth quoting.
func IsNoise(cleaned string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(cleaned)) <= NoiseLimit
}

// Truncate cuts s to at most n runes, appending "..." when it cut anything.
// The suffix counts toward n.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// Len returns the length of s in runes. Prompt budgets are measured in runes
// because most forum text is CJK.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}
