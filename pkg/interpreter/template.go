package interpreter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jllopis/camel/pkg/capability"
)

var templateRef = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// render substitutes {{name.path}} references in a final text. Values the
// requesting principal may not read are replaced with RedactedText and
// their references returned.
func (r *run) render(text string) (string, []string, error) {
	var redacted []string
	var firstErr error
	out := templateRef.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil {
			return m
		}
		sub := templateRef.FindStringSubmatch(m)
		ref := sub[1] + sub[2]
		v, err := r.resolve(sub[1], sub[2])
		if err != nil {
			firstErr = err
			return m
		}
		if r.principal != "" && !capability.AllowsReader(v.Cap, r.principal) {
			redacted = append(redacted, ref)
			return RedactedText
		}
		return str(v.Data)
	})
	if firstErr != nil {
		return "", nil, firstErr
	}
	return out, redacted, nil
}

// resolve walks a dotted path from a variable. Path segments read dict keys
// or, when numeric, sequence indices; the result keeps the root capability.
func (r *run) resolve(name, path string) (capability.Value, error) {
	root, ok := r.lookupVar(name)
	if !ok {
		return root, fmt.Errorf("final text references undefined variable %q", name)
	}
	cur := root.Data
	walked := name
	for _, seg := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		if seg == "" {
			continue
		}
		next, err := walkSegment(cur, seg)
		if err != nil {
			return root, fmt.Errorf("final text reference %s.%s: %v", walked, seg, err)
		}
		cur = next
		walked += "." + seg
	}
	return capability.NewValue(cur, root.Cap), nil
}

func walkSegment(cur any, seg string) (any, error) {
	n, numErr := strconv.ParseInt(seg, 10, 64)
	switch c := cur.(type) {
	case *Dict:
		if v, ok, _ := c.Get(seg); ok {
			return v, nil
		}
		if numErr == nil {
			if v, ok, _ := c.Get(n); ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("no key %q", seg)
	case List, Tuple:
		if numErr != nil {
			return nil, fmt.Errorf("%s index must be an integer", typeName(cur))
		}
		return index(c, n)
	}
	return nil, fmt.Errorf("cannot read %q from %s", seg, typeName(cur))
}
