package loader

import "fmt"

// ParseError reports a problem in a rule document. Line is the line of the
// offending rule entry, or of the document node when no rule is involved.
type ParseError struct {
	File string
	Rule string
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch {
	case e.Rule != "" && e.Line > 0:
		msg = fmt.Sprintf("%s in rule '%s' (line %d)", msg, e.Rule, e.Line)
	case e.Rule != "":
		msg = fmt.Sprintf("%s in rule '%s'", msg, e.Rule)
	case e.Line > 0:
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
