package core

import (
	"fmt"

	"github.com/commcore/commcore-go/pkg/rterr"
)

// DisableLoanedMessagesEnv is the feature toggle that turns off loaned
// message support even when the transport offers it.
const DisableLoanedMessagesEnv = "COMMCORE_DISABLE_LOANED_MESSAGES"

// BoolFeature reads a boolean feature toggle from the context's key/value
// store. "1" means true and "0" means false; any other value is treated as
// false and logged, an unset key is false without a diagnostic. The store
// is consulted on every call, never cached.
func (c *Context) BoolFeature(key string) (bool, error) {
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: context is %s", rterr.ErrContextInvalid, c.state)
	}
	lookup := c.envLookup
	log := c.log
	c.mu.Unlock()

	value, ok := lookup(key)
	if !ok {
		return false, nil
	}
	switch value {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		log.WithField("key", key).WithField("value", value).
			Warn("unexpected boolean feature value, treating as false")
		return false, nil
	}
}

// LoanedMessagesDisabled reports whether loaned messages are disabled via
// the environment.
func (c *Context) LoanedMessagesDisabled() (bool, error) {
	return c.BoolFeature(DisableLoanedMessagesEnv)
}
