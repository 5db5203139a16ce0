package check

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

func check(ok bool, msgAndArgs []interface{}, defaultMsg string, args ...interface{}) error {
	if ok {
		return nil
	}
	msg := fmt.Sprintf(defaultMsg, args...)
	switch {
	case len(msgAndArgs) == 1:
		return errors.Errorf("%v: %s", msgAndArgs[0], msg)
	case len(msgAndArgs) > 1:
		format, _ := msgAndArgs[0].(string)
		return errors.Errorf("%s: %s", fmt.Sprintf(format, msgAndArgs[1:]...), msg)
	default:
		return errors.New(msg)
	}
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected true, got false")
}

// NotEmpty checks whether the string is not empty.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return check(actual != "", msgAndArgs, "expected non-empty string")
}

// In checks whether the string is one of the allowed values.
func In(actual string, allowed []string, msgAndArgs ...interface{}) error {
	for _, a := range allowed {
		if a == actual {
			return nil
		}
	}
	return check(false, msgAndArgs, "%q not in %v", actual, allowed)
}

// GreaterThan checks whether actual > bound.
func GreaterThan(actual, bound float64, msgAndArgs ...interface{}) error {
	return check(actual > bound, msgAndArgs, "%v is not greater than %v", actual, bound)
}

// AbsoluteURL checks whether the string parses as a URL with a scheme and a host. Empty strings
// pass; pair with NotEmpty when the value is required.
func AbsoluteURL(actual string, msgAndArgs ...interface{}) error {
	if actual == "" {
		return nil
	}
	u, err := url.Parse(actual)
	return check(err == nil && u.Scheme != "" && u.Host != "", msgAndArgs,
		"%q is not an absolute URL", actual)
}
