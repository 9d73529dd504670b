package spec

import "errors"

// ErrConfiguration marks problems that make a campaign impossible to start:
// bad spec values, an unusable script template, malformed checkpoint names.
var ErrConfiguration = errors.New("configuration error")
