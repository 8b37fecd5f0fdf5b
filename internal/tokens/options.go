package tokens

import (
	"fmt"
	"time"
)

// Recognized form values for the token creation options. The spellings are
// fixed; existing clients submit them verbatim.

const (
	sizeUnlimited = "Unlimited"
	durationNone  = "None"
	doesntExpire  = "DoesntExpire"
)

var sizeChoices = map[string]int64{
	"1MB":   1,
	"10MB":  10,
	"200MB": 200,
	"1GB":   1024,
	"5GB":   5 * 1024,
}

var durationChoices = map[string]time.Duration{
	"1Hour":  time.Hour,
	"1Day":   24 * time.Hour,
	"1Week":  7 * 24 * time.Hour,
	"1Month": 31 * 24 * time.Hour,
}

// doesntExpireAfter stands in for an unbounded token validity. Far enough
// out that the deadline machinery never fires for it.
const doesntExpireAfter = 100 * 365 * 24 * time.Hour

// ParseMaxSize maps a size choice to a bound in MiB, nil meaning no bound.
func ParseMaxSize(raw string) (*int64, error) {
	if raw == sizeUnlimited {
		return nil, nil
	}
	if mib, ok := sizeChoices[raw]; ok {
		return &mib, nil
	}
	return nil, &ValidationError{Field: "max-size", Msg: fmt.Sprintf("unrecognized size %q", raw)}
}

// ParseContentExpires maps a duration choice to a content retention
// duration, nil meaning the content never expires.
func ParseContentExpires(raw string) (*time.Duration, error) {
	if raw == durationNone {
		return nil, nil
	}
	if d, ok := durationChoices[raw]; ok {
		return &d, nil
	}
	return nil, &ValidationError{Field: "content-expires", Msg: fmt.Sprintf("unrecognized duration %q", raw)}
}

// ParseValidFor maps a duration choice to how long the token accepts
// uploads. DoesntExpire is accepted here only.
func ParseValidFor(raw string) (time.Duration, error) {
	if raw == doesntExpire {
		return doesntExpireAfter, nil
	}
	if d, ok := durationChoices[raw]; ok {
		return d, nil
	}
	return 0, &ValidationError{Field: "valid-for", Msg: fmt.Sprintf("unrecognized duration %q", raw)}
}
