// Package expand implements the $VAR / ${FN:args} template expander.
// It generalizes original_source/utils/variable_utils.py's sub_vars /
// sub_funcs pair into a single-pass-then-recursive algorithm over a
// lexically scoped Environment, the way the teacher's glob package
// lexes shell-style tokens by hand rather than reaching for a templating
// engine (text/template's delimiters and escaping rules don't match the
// spec's "no escape exists, unbound variables pass through literally"
// contract, so this stays a small hand-written scanner like the
// teacher's fnmatch_translate).
package expand

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Func is a built-in function callable from a ${FN:arg1,arg2,...} token.
type Func func(args []string) string

// MaxFuncDepth bounds ${...} nesting depth to prevent runaway input, per
// the spec's suggested limit.
const MaxFuncDepth = 16

// Environment is the variable scope for template expansion at dispatch
// time: $NAME lookups plus the registered function table.
type Environment struct {
	Vars  map[string]string
	Funcs map[string]Func
}

// NewEnvironment seeds the built-in function table (PATH, REPLACE) and
// an empty variable map.
func NewEnvironment() *Environment {
	env := &Environment{
		Vars: map[string]string{},
		Funcs: map[string]Func{
			"PATH": func(args []string) string {
				if len(args) == 0 {
					return ""
				}
				return toHostPath(args[0])
			},
			"REPLACE": func(args []string) string {
				if len(args) < 3 {
					return strings.Join(args, ",")
				}
				return strings.ReplaceAll(args[0], args[1], args[2])
			},
		},
	}
	return env
}

func toHostPath(p string) string {
	if filepath.Separator == '\\' {
		return strings.ReplaceAll(p, "/", "\\")
	}
	return strings.ReplaceAll(p, "\\", "/")
}

// Set binds a variable. Names are stored upper-cased since $NAME tokens
// only recognize uppercase letters, digits and underscores.
func (e *Environment) Set(name, value string) {
	e.Vars[strings.ToUpper(name)] = value
}

// SeedDispatchVars populates the bindings every ToolInvocation gets per
// §4.2: FILE, OUTDIR, PARENT, ENTRYPATH, FILENAME, USERNAME, TIME, DATE.
// DIR_<TOOL> and extra-arg bindings are layered on by the caller since
// they vary per ToolConfig/ToolInvocation.
func (e *Environment) SeedDispatchVars(file, outdir, parent, entryPath, filename, username string) {
	e.Set("FILE", file)
	e.Set("OUTDIR", outdir)
	e.Set("PARENT", parent)
	e.Set("ENTRYPATH", entryPath)
	e.Set("FILENAME", filename)
	e.Set("USERNAME", username)
	now := time.Now()
	e.Set("TIME", now.Format("15.04.05"))
	e.Set("DATE", now.Format("2006-01-02"))
}

var nameBytes = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_"

func isNameStart(b byte) bool { return b >= 'A' && b <= 'Z' }
func isNameCont(b byte) bool  { return strings.IndexByte(nameBytes, b) >= 0 }

// Expand performs the single variable-substitution pass followed by
// innermost-first function resolution described in §4.2. Unbound $NAME
// tokens are left literal by design, so substrings like $MFT survive
// untouched when MFT is never bound.
func (e *Environment) Expand(template string) (string, error) {
	substituted := e.substituteVars(template)
	return e.resolveFuncs(substituted, 0)
}

// substituteVars performs the single left-to-right pass over $NAME
// tokens. It does not recurse: a bound variable's value is inserted
// verbatim, even if that value itself looks like another $NAME token,
// matching the spec's "variables are substituted before functions in a
// single left-to-right pass" invariant.
func (e *Environment) substituteVars(s string) string {
	var b strings.Builder
	i := 0
	n := len(s)
	for i < n {
		if s[i] != '$' || i+1 >= n || s[i+1] == '{' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if !isNameStart(s[i+1]) {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for j < n && isNameCont(s[j]) {
			j++
		}
		name := s[i+1 : j]
		if val, ok := e.Vars[name]; ok {
			b.WriteString(val)
		} else {
			// Unbound: pass the token through literally.
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

// resolveFuncs scans for ${FN:arg1,arg2,...} tokens and resolves them
// innermost-first by recursing into the function body before calling the
// function itself, per §4.2: "afterwards, function calls are resolved
// innermost-first."
func (e *Environment) resolveFuncs(s string, depth int) (string, error) {
	if depth > MaxFuncDepth {
		return "", errors.Errorf("function nesting exceeds max depth %d", MaxFuncDepth)
	}

	start := strings.Index(s, "${")
	if start == -1 {
		return s, nil
	}

	end, err := matchingBrace(s, start+2)
	if err != nil {
		return "", err
	}

	inner := s[start+2 : end]
	colon := strings.Index(inner, ":")
	if colon == -1 {
		return "", errors.Errorf("invalid function syntax: %q", inner)
	}
	fnName := inner[:colon]
	argsRaw := inner[colon+1:]

	resolvedArgs, err := e.resolveFuncs(argsRaw, depth+1)
	if err != nil {
		return "", err
	}
	args := splitTopLevel(resolvedArgs)
	for i, a := range args {
		args[i], err = e.resolveFuncs(a, depth+1)
		if err != nil {
			return "", err
		}
	}

	fn, ok := e.Funcs[strings.ToUpper(fnName)]
	if !ok {
		return "", errors.Errorf("unknown function %q", fnName)
	}
	result := fn(args)

	rest, err := e.resolveFuncs(s[end+1:], depth)
	if err != nil {
		return "", err
	}
	return s[:start] + result + rest, nil
}

// matchingBrace finds the index of the "}" matching the "{" at openIdx-1
// (i.e. the caller passes the index just after "${"'s '{'), honoring
// nested "{"/"}" pairs inside function arguments.
func matchingBrace(s string, openIdx int) (int, error) {
	depth := 1
	for i := openIdx; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errors.Errorf("unterminated function call: %q", s[openIdx-2:])
}

// splitTopLevel splits a function's argument string on "," at the top
// level only; "{"/"}" pairs nest and their interior commas are not
// split points.
func splitTopLevel(s string) []string {
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	args = append(args, s[start:])
	return args
}

// DeriveUsername implements the Users/<X>, home/<X>, root username
// derivation rule from the Glossary, operating on a partition-relative
// path separated by "/" or "\", which it splits into segments itself.
func DeriveUsername(entryPath string) string {
	entryPath = strings.TrimPrefix(strings.ReplaceAll(entryPath, "\\", "/"), "/")
	parts := strings.Split(entryPath, "/")
	if len(parts) == 0 {
		return ""
	}
	switch strings.ToLower(parts[0]) {
	case "users", "home":
		if len(parts) > 1 {
			return parts[1]
		}
		return ""
	case "root":
		return "root"
	default:
		return ""
	}
}

