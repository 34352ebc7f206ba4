package composition

import (
	"strings"
	"unicode"
)

// TopLevelCompositionIdentifier names the outermost composition instance.
const TopLevelCompositionIdentifier = "Top"

// DeriveGraphIdentifier converts a node title into its user-visible graph
// identifier: camel-cased with non-alphanumerics removed. "Fire on Start"
// becomes "FireOnStart". Disambiguation against sibling nodes happens in
// Composition.Prepare.
func DeriveGraphIdentifier(title string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range title {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Node"
	}
	s := b.String()
	if unicode.IsDigit(rune(s[0])) {
		s = "Node" + s
	}
	return s
}

// BuildPortIdentifier forms the stable port identifier from a node
// identifier and a port name.
func BuildPortIdentifier(nodeIdentifier, portName string) string {
	return nodeIdentifier + "__" + portName
}

// BuildCompositionIdentifier forms the composition identifier of a
// subcomposition node instance from its parent's identifier.
func BuildCompositionIdentifier(parentIdentifier, nodeIdentifier string) string {
	return parentIdentifier + "/" + nodeIdentifier
}

// TranscodeToIdentifier rewrites an arbitrary string into a symbol-safe
// form for generated function and constant names.
func TranscodeToIdentifier(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '/' || r == ':':
			b.WriteRune('_')
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// PrefixSymbolName prepends a module key to a symbol name, the naming
// scheme for all generated functions and cached constants.
func PrefixSymbolName(symbol, moduleKey string) string {
	return moduleKey + "__" + symbol
}
