package publish

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/observability"
)

// DefaultOTPMessage is shown when prompting for a one-time password.
const DefaultOTPMessage = "This operation requires a one-time password:"

// maxOTPPrompts bounds how often one call re-prompts after a rejected password.
const maxOTPPrompts = 3

// Prompter obtains one-time credentials from the user.
type Prompter interface {
	RequestOneTimeCredential(ctx context.Context, message string) (string, error)
}

// PrompterFunc adapts a function to [Prompter].
type PrompterFunc func(ctx context.Context, message string) (string, error)

// RequestOneTimeCredential calls f.
func (f PrompterFunc) RequestOneTimeCredential(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

// OTPContext shares one-time credentials across concurrent registry calls in
// a single release run. When several calls hit a challenge at once, exactly
// one of them prompts; the others pick up the fresh credential from the cache.
type OTPContext struct {
	prompter Prompter
	message  string
	logger   *log.Logger

	lock *semaphore.Weighted

	mu  sync.Mutex
	otp string
}

// NewOTPContext returns a context with an optional initial credential. A nil
// prompter makes challenges fatal.
func NewOTPContext(prompter Prompter, initial string, logger *log.Logger) *OTPContext {
	if logger == nil {
		logger = log.Default()
	}
	return &OTPContext{
		prompter: prompter,
		message:  DefaultOTPMessage,
		logger:   logger,
		lock:     semaphore.NewWeighted(1),
		otp:      initial,
	}
}

// Current returns the cached credential, if any.
func (c *OTPContext) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.otp
}

func (c *OTPContext) store(otp string) {
	c.mu.Lock()
	c.otp = otp
	c.mu.Unlock()
}

// Do runs fn with the cached credential and retries it after a challenge.
// When the prompter is missing or fails, the challenge error from fn is
// returned unchanged.
func (c *OTPContext) Do(ctx context.Context, fn func(ctx context.Context, otp string) error) error {
	used := c.Current()
	err := fn(ctx, used)

	for prompts := 0; errors.IsOTPChallenge(err); {
		// Another call may have refreshed the credential while fn ran.
		if cached := c.Current(); cached != used {
			used = cached
			err = fn(ctx, used)
			continue
		}
		if prompts == maxOTPPrompts {
			return err
		}

		fresh, prompted, perr := c.refresh(ctx, used)
		if perr != nil {
			c.logger.Debug("one-time password unavailable", "error", perr)
			return err
		}
		if prompted {
			prompts++
		}
		used = fresh
		err = fn(ctx, used)
	}
	return err
}

// refresh returns a credential different from stale, prompting only when no
// other caller refreshed it while this one waited for the lock.
func (c *OTPContext) refresh(ctx context.Context, stale string) (otp string, prompted bool, err error) {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return "", false, err
	}
	defer c.lock.Release(1)

	if cached := c.Current(); cached != stale {
		return cached, false, nil
	}
	if c.prompter == nil {
		return "", false, errors.New(errors.ErrCodeOTPRequired, "no prompt available for one-time password")
	}

	observability.Release().OnOTPPrompt(ctx)
	otp, err = c.prompter.RequestOneTimeCredential(ctx, c.message)
	if err != nil {
		return "", true, err
	}
	c.store(otp)
	return otp, true, nil
}
