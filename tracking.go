package guestlink

import (
	"fmt"
	"regexp"
	"time"
)

const (
	trackKey            = "__track__"
	trackRequestTimeout = "sdk_request_timeout"
)

// actionArgs matches the arguments of an action (":a,b") and any trailing
// extension, keeping the show/hide/enable/disable field modifiers.
var actionArgs = regexp.MustCompile(`:\w+(,?\w+)*((\.(show|hide|enable|disable))|(\\?\.\w*))?`)

// collateActions tags every sub-operation with its request name.
func collateActions(request string, params []string) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = request + "-" + p
	}
	return out
}

// StripActionArgs replaces the arguments of an action with ":arg" so
// tracking tags stay low-cardinality.
//
//	StripActionArgs("invoke-ticket.customField:custom_field_1.hide") == "invoke-ticket.customField:arg.hide"
func StripActionArgs(action string) string {
	return actionArgs.ReplaceAllString(action, ":arg${3}")
}

// SecondsRange buckets elapsed into ten second ranges such as "10-20".
// Anything at or above upper is reported as "<upper>-".
func SecondsRange(elapsed, upper time.Duration) string {
	if elapsed >= upper {
		return fmt.Sprintf("%d-", upper.Milliseconds()/1000)
	}
	ms := elapsed.Milliseconds()
	lower := ms - ms%10000
	return fmt.Sprintf("%d-%d", lower/1000, (lower+10000)/1000)
}

// trackRequest reports a timed out or slow request on the tracking
// channel with one tag per sub-operation and an elapsed time bucket.
func (c *Client) trackRequest(actions []string, elapsed time.Duration) {
	tags := make([]string, 0, len(actions)+1)
	for _, a := range actions {
		tags = append(tags, "action:"+StripActionArgs(a))
	}
	tags = append(tags, "request_response_time:"+SecondsRange(elapsed, c.link.requestTimeout))
	c.PostMessage(trackKey, map[string]interface{}{
		"event_name": trackRequestTimeout,
		"event_type": "increment",
		"data":       1,
		"tags":       tags,
	})
}
