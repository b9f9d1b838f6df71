package itip

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Annotation templates. Placeholders are positional ({0}, {1}, ...) so the
// caller can localize the template before binding the arguments.
const (
	MsgOutdated            = "This message is outdated; the event in your calendar is newer (revision {0} vs. {1})."
	MsgInvited             = "{0} has invited you to {1}."
	MsgOccurrenceAdded     = "{0} has added an occurrence to {1}."
	MsgUnknownSeries       = "{0} has added an occurrence to a series that is not in your calendar."
	MsgUpdated             = "{0} has updated {1}."
	MsgUpdatedDetailsOnly  = "{0} has changed the details of {1}; your response is kept."
	MsgUnchanged           = "{0} has re-sent {1} without changes."
	MsgPublished           = "{0} has published {1}."
	MsgCancelled           = "{0} has cancelled {1}."
	MsgCancelledOccurrence = "{0} has cancelled the occurrence of {1} on {2}."
	MsgCancelUnknown       = "The cancelled event {0} is not in your calendar."
	MsgReplied             = "{0} has replied {1} to {2}."
	MsgPartyCrasher        = "{0} is not on the guest list of {1}."
	MsgReplyIgnoredDetails = "The reply from {0} also changes event details; only the response will be applied."
	MsgReplyUnknown        = "The reply from {0} refers to an event that is not in your calendar."
	MsgCountered           = "{0} has proposed changes to {1}."
	MsgCounterUnknown      = "The proposal from {0} refers to an event that is not in your calendar."
	MsgCounterDeclined     = "{0} has declined your proposal for {1}."
	MsgRefreshRequested    = "{0} has asked for the latest version of {1}."
	MsgRefreshUnknown      = "{0} has asked for an event that is not in your calendar."
	MsgConflicts           = "{0} conflicts with {1} other appointment(s)."
	MsgReplaces            = "This event replaces {0}."
	MsgAmbiguous           = "The message matches {0} events in your calendar and cannot be applied automatically."
	MsgUnsupported         = "{0} messages cannot be handled here."
)

// Annotation is a human-facing explanation attached to an analyzed change.
// It is never pre-rendered; Format exists for logs and plain clients.
type Annotation struct {
	Message     string
	Args        []any
	Additionals map[string]any
}

// NewAnnotation builds an annotation.
func NewAnnotation(message string, args ...any) Annotation {
	return Annotation{Message: message, Args: args}
}

// WithAdditional returns a copy carrying an extra metadata entry.
func (a Annotation) WithAdditional(key string, value any) Annotation {
	extra := make(map[string]any, len(a.Additionals)+1)
	for k, v := range a.Additionals {
		extra[k] = v
	}
	extra[key] = value
	return Annotation{Message: a.Message, Args: a.Args, Additionals: extra}
}

// Format binds the positional arguments into the template.
func (a Annotation) Format() string {
	out := a.Message
	for i, arg := range a.Args {
		out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", formatArg(arg))
	}
	return out
}

func formatArg(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
