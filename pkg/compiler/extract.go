package compiler

import (
	"strconv"
	"strings"
)

// Block is a fenced code block found in planner output.
type Block struct {
	Lang string
	Body string
	Line int
}

// FindBlocks returns every fenced code block in text, in order.
func FindBlocks(text string) ([]Block, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var blocks []Block
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		fence := leadingRun(trimmed, '`')
		b := Block{Lang: strings.ToLower(strings.TrimSpace(trimmed[len(fence):])), Line: i + 1}
		var body []string
		closed := false
		for i++; i < len(lines); i++ {
			t := strings.TrimSpace(lines[i])
			if strings.HasPrefix(t, fence) && strings.Trim(t, "`") == "" {
				closed = true
				break
			}
			body = append(body, lines[i])
		}
		if !closed {
			return nil, &Error{Line: b.Line, Msg: "unterminated code block"}
		}
		b.Body = strings.Join(body, "\n")
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func leadingRun(s string, c byte) string {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return s[:n]
}

// Source is the plan text selected from planner output.
type Source struct {
	JSON bool
	Body string
	Line int // line of the block in the original text, 0 when unfenced
}

// ExtractSource selects the plan from planner output. Exactly one fenced
// code block is accepted; output with no fence is accepted only when it is
// a bare JSON plan.
func ExtractSource(text string) (Source, error) {
	blocks, err := FindBlocks(text)
	if err != nil {
		return Source{}, err
	}
	switch len(blocks) {
	case 0:
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") {
			return Source{JSON: true, Body: trimmed}, nil
		}
		return Source{}, &Error{Msg: "no code block found; answer with exactly one fenced code block"}
	case 1:
		b := blocks[0]
		if strings.TrimSpace(b.Body) == "" {
			return Source{}, &Error{Line: b.Line, Msg: "the code block is empty"}
		}
		isJSON := b.Lang == "json" || (b.Lang == "" && strings.HasPrefix(strings.TrimSpace(b.Body), "{"))
		return Source{JSON: isJSON, Body: b.Body, Line: b.Line}, nil
	default:
		return Source{}, &Error{Msg: "expected exactly one code block, found " + strconv.Itoa(len(blocks))}
	}
}
