package segment

import (
	"fmt"
	"regexp"
)

type tokenKind int

const (
	tokenComment tokenKind = iota
	tokenTag
)

type token struct {
	kind        tokenKind
	start, end  int
	name        string
	closing     bool
	selfClosing bool
}

// comment | tag, where a tag is `<` `/`? name attributes? `/`? `>`.
// Attributes must start with whitespace so that `<b2>` is not read as `<b` + `2`.
const tokenPatternFormat = `<!--[\s\S]*?-->|<(/?)(%s)(?:\s[^<>]*?)?(/?)>`

func compileTokenPattern(namePattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(fmt.Sprintf(tokenPatternFormat, namePattern))
	if err != nil {
		return nil, fmt.Errorf("invalid tag name pattern %q: %w", namePattern, err)
	}
	if re.NumSubexp() != 3 {
		return nil, fmt.Errorf("tag name pattern %q must not contain capture groups", namePattern)
	}
	return re, nil
}

func (s *Segmenter) scan(text string) []token {
	matches := s.tokenRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]token, 0, len(matches))
	for _, m := range matches {
		t := token{start: m[0], end: m[1]}
		if m[4] < 0 {
			t.kind = tokenComment
			tokens = append(tokens, t)
			continue
		}
		t.kind = tokenTag
		t.closing = m[3] > m[2]
		t.name = text[m[4]:m[5]]
		t.selfClosing = !t.closing && m[7] > m[6]
		tokens = append(tokens, t)
	}
	return tokens
}
