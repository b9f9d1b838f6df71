package itip

import (
	"fmt"
	"strings"
)

// Method is the iTIP method carried by an inbound scheduling message.
type Method string

const (
	MethodRequest        Method = "REQUEST"
	MethodReply          Method = "REPLY"
	MethodCancel         Method = "CANCEL"
	MethodCounter        Method = "COUNTER"
	MethodDeclineCounter Method = "DECLINECOUNTER"
	MethodRefresh        Method = "REFRESH"
	MethodAdd            Method = "ADD"
	MethodPublish        Method = "PUBLISH"
)

// Methods lists every method the engine knows about, in RFC 5546 order.
var Methods = []Method{
	MethodPublish,
	MethodRequest,
	MethodReply,
	MethodAdd,
	MethodCancel,
	MethodRefresh,
	MethodCounter,
	MethodDeclineCounter,
}

// ParseMethod maps a METHOD property value onto a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrInvalidMessage, s)
}

func (m Method) String() string { return string(m) }

// IsRevisionAgnostic reports whether messages of this method bypass the
// staleness gate.
func (m Method) IsRevisionAgnostic() bool {
	return m == MethodRefresh
}

// fromAttendee reports whether messages of this method travel from an
// attendee to the organizer.
func (m Method) fromAttendee() bool {
	switch m {
	case MethodReply, MethodCounter, MethodRefresh:
		return true
	}
	return false
}

// Role is the local user's role for the scheduling object being analyzed.
type Role string

const (
	RoleOrganizer Role = "ORGANIZER"
	RoleAttendee  Role = "ATTENDEE"
)
