// Package markdown pulls fenced code blocks out of bot answers so they can be
// copied on their own.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type CodeBlock struct {
	Code     string
	Language string
}

// Title is a one-line label for pickers.
func (c CodeBlock) Title() string {
	first := strings.TrimSpace(strings.SplitN(c.Code, "\n", 2)[0])
	if c.Language == "" {
		return first
	}
	return c.Language + ": " + first
}

func ExtractCodeBlocks(markdownText string) []CodeBlock {
	var ret []CodeBlock
	source := []byte(markdownText)

	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	_ = ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		v, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var sb strings.Builder
		lines := v.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
		}
		ret = append(ret, CodeBlock{
			Code:     sb.String(),
			Language: string(v.Language(source)),
		})
		return ast.WalkSkipChildren, nil
	})

	return ret
}

// LastCodeBlock returns the final code block of the text, if any.
func LastCodeBlock(markdownText string) (CodeBlock, bool) {
	blocks := ExtractCodeBlocks(markdownText)
	if len(blocks) == 0 {
		return CodeBlock{}, false
	}
	return blocks[len(blocks)-1], true
}
