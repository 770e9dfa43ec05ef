package plan

// Names with special meaning in plan code.
const (
	// FinalFunc ends a plan: final("text with {{var}}").
	FinalFunc = "final"
	// QLLMFunc asks the quarantined model to extract data.
	QLLMFunc = "query_quarantined_llm"
	// QLLMAlias is accepted in place of QLLMFunc.
	QLLMAlias = "query_ai_assistant"
)

// Builtins is the fixed set of pure functions plans may call.
var Builtins = map[string]bool{
	"len": true, "range": true, "sum": true, "min": true, "max": true,
	"str": true, "int": true, "float": true, "bool": true, "type": true,
	"list": true, "tuple": true, "set": true, "dict": true, "sorted": true,
	"reversed": true, "enumerate": true, "zip": true, "abs": true,
	"any": true, "all": true, "dir": true, "repr": true, "divmod": true,
	"hash": true, "print": true,
}

// ExceptionTypes may only be called inside a raise statement.
var ExceptionTypes = map[string]bool{
	"Exception": true, "ValueError": true, "RuntimeError": true,
	"KeyError": true, "TypeError": true, "LookupError": true,
}

// Methods lists the non-mutating methods available per receiver type.
var Methods = map[string]map[string]bool{
	"str": set(
		"lower", "upper", "strip", "lstrip", "rstrip", "split", "rsplit",
		"splitlines", "join", "replace", "startswith", "endswith", "find",
		"rfind", "index", "rindex", "count", "format", "capitalize", "title",
		"casefold", "swapcase", "isdigit", "isalpha", "isalnum", "isspace",
		"islower", "isupper", "isnumeric", "zfill", "center", "ljust", "rjust",
		"partition", "rpartition", "removeprefix", "removesuffix",
	),
	"list":  set("index", "count", "copy"),
	"tuple": set("index", "count"),
	"dict":  set("get", "keys", "values", "items", "copy"),
	"set": set(
		"union", "intersection", "difference", "symmetric_difference",
		"issubset", "issuperset", "isdisjoint", "copy",
	),
}

// MutatingMethods are rejected at compile time: plan values are immutable.
var MutatingMethods = set(
	"append", "extend", "insert", "remove", "pop", "clear", "sort",
	"reverse", "update", "setdefault", "popitem", "add", "discard",
	"intersection_update", "difference_update", "symmetric_difference_update",
)

// AllowedMethod reports whether name is a non-mutating method of any
// receiver type.
func AllowedMethod(name string) bool {
	for _, ms := range Methods {
		if ms[name] {
			return true
		}
	}
	return false
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
