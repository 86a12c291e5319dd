package feedback

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"mapgen/internal/evidence"
	"mapgen/internal/logging"
)

// HelperKind is the abstract kind of a helper invocation.
type HelperKind string

const (
	HelperString      HelperKind = "asString"
	HelperBoolean     HelperKind = "asBoolean"
	HelperEnum        HelperKind = "asEnum"
	HelperInstance    HelperKind = "asInstanceReference"
	HelperTextContent HelperKind = "asTextContent"
	HelperChildren    HelperKind = "asChildren"

	// Pass-through helpers, extracted but never flagged.
	HelperNestedProperties HelperKind = "asNestedProperties"
	HelperClassName        HelperKind = "asClassName"
)

// CheckedHelperKinds lists the helper kinds tier 1 validates, in display order.
var CheckedHelperKinds = []HelperKind{
	HelperString, HelperBoolean, HelperEnum, HelperInstance, HelperTextContent, HelperChildren,
}

// DefaultNamespace is the object the helpers are called on.
const DefaultNamespace = "figma"

// helperMethods maps Code Connect method names to helper kinds. The abstract
// names are accepted too. "connect" is absent on purpose: its first string
// argument is a URL, not a key.
var helperMethods = map[string]HelperKind{
	"string":      HelperString,
	"boolean":     HelperBoolean,
	"enum":        HelperEnum,
	"instance":    HelperInstance,
	"textContent": HelperTextContent,
	"children":    HelperChildren,
	"nestedProps": HelperNestedProperties,
	"className":   HelperClassName,

	string(HelperString):           HelperString,
	string(HelperBoolean):          HelperBoolean,
	string(HelperEnum):             HelperEnum,
	string(HelperInstance):         HelperInstance,
	string(HelperTextContent):      HelperTextContent,
	string(HelperChildren):         HelperChildren,
	string(HelperNestedProperties): HelperNestedProperties,
	string(HelperClassName):        HelperClassName,
}

var kindMethod = map[HelperKind]string{
	HelperString:           "string",
	HelperBoolean:          "boolean",
	HelperEnum:             "enum",
	HelperInstance:         "instance",
	HelperTextContent:      "textContent",
	HelperChildren:         "children",
	HelperNestedProperties: "nestedProps",
	HelperClassName:        "className",
}

// Method returns the Code Connect call for the kind, e.g. "figma.boolean".
func (k HelperKind) Method() string {
	if m, ok := kindMethod[k]; ok {
		return DefaultNamespace + "." + m
	}
	return DefaultNamespace + "." + string(k)
}

// Checked reports whether tier 1 validates keys of this kind.
func (k HelperKind) Checked() bool {
	return k != HelperNestedProperties && k != HelperClassName
}

// Invocation is one helper call found in candidate text.
type Invocation struct {
	Kind   HelperKind
	Method string // method name as written
	Key    string // verbatim key argument
	Line   int    // 1-based
}

const quoted = `(?:"((?:[^"\\\n]|\\.)*)"|'((?:[^'\\\n]|\\.)*)'|` + "`([^`]*)`" + `)`

var (
	// <ns> . <method> ( <quoted key>
	invocationPattern = regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*\.\s*([A-Za-z]+)\s*\(\s*` + quoted)

	// <ns> . children ( [ "A", "B" ]
	childrenArrayPattern = regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*\.\s*(children|asChildren)\s*\(\s*\[([^\]]*)\]`)

	quotedPattern = regexp.MustCompile(quoted)
)

// PreValidator is the tier 1 key-set validator. It scans candidate text with
// patterns rather than a grammar, so almost-valid candidates still get their
// key vocabulary checked.
type PreValidator struct {
	// Namespace restricts matches to calls on this identifier. Empty matches any.
	Namespace string
	logger    *zap.Logger
}

// NewPreValidator creates a tier 1 validator for the figma namespace.
func NewPreValidator(logger *zap.Logger) *PreValidator {
	return &PreValidator{
		Namespace: DefaultNamespace,
		logger:    logging.For(logger, logging.CategoryTier1),
	}
}

// Validate checks every helper invocation in text against ks.
func (pv *PreValidator) Validate(text string, ks *KeySets) ValidationResult {
	invs := pv.Extract(text)
	errs := ValidateInvocations(invs, ks)
	pv.logger.Debug("tier 1 scan complete",
		zap.Int("invocations", len(invs)),
		zap.Int("errors", len(errs)))
	if len(errs) > 0 {
		return Fail(errs...)
	}
	return Ok()
}

// ValidateEvidence is Validate with key sets built from ev.
func (pv *PreValidator) ValidateEvidence(text string, ev *evidence.Evidence) ValidationResult {
	return pv.Validate(text, BuildKeySets(ev))
}

// Extract returns the helper invocations in text on the validator's namespace.
func (pv *PreValidator) Extract(text string) []Invocation {
	return extractHelperInvocations(text, pv.Namespace)
}

// ExtractHelperInvocations scans text for figma helper calls, in source order.
func ExtractHelperInvocations(text string) []Invocation {
	return extractHelperInvocations(text, DefaultNamespace)
}

func extractHelperInvocations(text, namespace string) []Invocation {
	src := maskComments(text)
	lines := newLineIndex(src)

	var invs []Invocation

	for _, m := range invocationPattern.FindAllStringSubmatchIndex(src, -1) {
		ns := src[m[2]:m[3]]
		method := src[m[4]:m[5]]
		if namespace != "" && ns != namespace {
			continue
		}
		kind, ok := helperMethods[method]
		if !ok {
			continue
		}
		invs = append(invs, Invocation{
			Kind:   kind,
			Method: method,
			Key:    firstGroup(src, m[6:12]),
			Line:   lines.lineOf(m[0]),
		})
	}

	for _, m := range childrenArrayPattern.FindAllStringSubmatchIndex(src, -1) {
		if namespace != "" && src[m[2]:m[3]] != namespace {
			continue
		}
		method := src[m[4]:m[5]]
		body := src[m[6]:m[7]]
		for _, q := range quotedPattern.FindAllStringSubmatchIndex(body, -1) {
			invs = append(invs, Invocation{
				Kind:   HelperChildren,
				Method: method,
				Key:    firstGroup(body, q[2:8]),
				Line:   lines.lineOf(m[6] + q[0]),
			})
		}
	}

	sort.SliceStable(invs, func(i, j int) bool { return invs[i].Line < invs[j].Line })
	return invs
}

// firstGroup returns the first participating submatch among the index pairs.
func firstGroup(s string, idx []int) string {
	for i := 0; i+1 < len(idx); i += 2 {
		if idx[i] >= 0 {
			return s[idx[i]:idx[i+1]]
		}
	}
	return ""
}

// ValidateInvocations checks each invocation against its legal set and returns
// one error per miss. Every miss is reported.
func ValidateInvocations(invs []Invocation, ks *KeySets) []string {
	var errs []string
	for _, inv := range invs {
		if !inv.Kind.Checked() {
			continue
		}
		set, ok := ks.Allowed(inv.Kind)
		if !ok || set.Has(inv.Key) {
			continue
		}
		errs = append(errs, fmt.Sprintf("line %d: %s(%q) uses unknown key %q; valid %s keys: %s",
			inv.Line, inv.Kind, inv.Key, inv.Key, inv.Kind, formatNames(set.Names())))
	}
	return errs
}

// maskComments blanks out // and /* */ comments, keeping byte offsets and
// newlines so line numbers still match the original text.
func maskComments(text string) string {
	b := []byte(text)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote || (c == '\n' && quote != '`') {
				quote = 0
			}
		case c == '`':
			quote = c
		case c == '"' || c == '\'':
			// A quote right after a word character is an apostrophe in JSX
			// text, as in <p>Don't</p>, not a string literal.
			if i == 0 || !isWordByte(b[i-1]) {
				quote = c
			}
		case c == '/' && i+1 < len(b) && b[i+1] == '/':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case c == '/' && i+1 < len(b) && b[i+1] == '*':
			b[i], b[i+1] = ' ', ' '
			for i += 2; i < len(b); i++ {
				if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i++
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		}
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex []int

func newLineIndex(s string) lineIndex {
	starts := lineIndex{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func (li lineIndex) lineOf(offset int) int {
	return sort.Search(len(li), func(i int) bool { return li[i] > offset })
}

