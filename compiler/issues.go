package compiler

import (
	"fmt"
	"strings"
)

// IssueSeverity classifies a compiler issue.
type IssueSeverity int

const (
	SeverityWarning IssueSeverity = iota
	SeverityError
)

func (s IssueSeverity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// IssueKind is the error taxonomy of the composition compiler.
type IssueKind int

const (
	// MissingContract: a node class's function is missing an argument the
	// generator needs to pass, or an annotation references a port the
	// class doesn't declare.
	MissingContract IssueKind = iota
	// UnsupportedLowering: argument marshalling exhausted its conversion
	// strategies.
	UnsupportedLowering
	// UnknownTrigger: the composition references a trigger port not
	// present on the node class.
	UnknownTrigger
	// UnknownPort: the composition references a port identifier not
	// present on the node class.
	UnknownPort
	// DuplicateIdentifier: two nodes collide on their derived graph
	// identifier after disambiguation.
	DuplicateIdentifier
	// MetadataParseFailure: a node module lacks expected globals or its
	// annotations reference unknown arguments.
	MetadataParseFailure
	// InternalError: a bug in the generator itself.
	InternalError
)

func (k IssueKind) String() string {
	switch k {
	case MissingContract:
		return "missing contract"
	case UnsupportedLowering:
		return "unsupported lowering"
	case UnknownTrigger:
		return "unknown trigger"
	case UnknownPort:
		return "unknown port"
	case DuplicateIdentifier:
		return "duplicate identifier"
	case MetadataParseFailure:
		return "metadata parse failure"
	}
	return "internal error"
}

// Issue is one structured problem found while compiling a composition.
type Issue struct {
	Severity IssueSeverity
	Kind     IssueKind
	Phase    string
	Summary  string
	Detail   string
}

func (i *Issue) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s while %s: %s", i.Severity, i.Phase, i.Summary)
	if i.Detail != "" {
		fmt.Fprintf(&b, " (%s)", i.Detail)
	}
	return b.String()
}

// IssueList collects issues from one codegen pass. A list containing any
// error-severity issue aborts the pass; no partial module is returned.
type IssueList struct {
	Issues []*Issue
}

func (l *IssueList) Error() string {
	if len(l.Issues) == 0 {
		return "no issues"
	}
	msgs := make([]string, len(l.Issues))
	for i, issue := range l.Issues {
		msgs[i] = issue.Error()
	}
	return strings.Join(msgs, "; ")
}

// Append adds an issue.
func (l *IssueList) Append(issue *Issue) {
	l.Issues = append(l.Issues, issue)
}

// HasErrors reports whether any issue is fatal.
func (l *IssueList) HasErrors() bool {
	for _, issue := range l.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func newIssue(kind IssueKind, summary, detailFormat string, args ...any) *Issue {
	return &Issue{
		Severity: SeverityError,
		Kind:     kind,
		Phase:    "compiling composition",
		Summary:  summary,
		Detail:   fmt.Sprintf(detailFormat, args...),
	}
}

func unsupportedCompositionIssue(kind IssueKind, detailFormat string, args ...any) *Issue {
	return newIssue(kind, "Unsupported composition layout", detailFormat, args...)
}
