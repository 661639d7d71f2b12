package manager

import (
	"fmt"
	"time"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/retry"
)

// Policy decides what happens when a fetched certificate cannot be
// registered as a member.
type Policy string

const (
	// FailOpen still replies and generates keys.
	FailOpen Policy = "fail-open"
	// FailClosed drops the request without a reply.
	FailClosed Policy = "fail-closed"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case FailOpen, FailClosed:
		return p, nil
	case "":
		return FailOpen, nil
	}
	return "", fmt.Errorf("manager: unknown registration policy %q", s)
}

// Config is the runtime configuration of a Manager.
type Config struct {
	AccessPrefix      ndn.Name
	Schedule          string
	CertLifetime      time.Duration
	CertRetries       int
	ResponseFreshness time.Duration
	Epoch             time.Time
	Window            time.Duration
	Step              time.Duration
	Policy            Policy
	// RateLimit is the sustained number of access requests per second
	// accepted from one requester; zero, the default, disables limiting.
	RateLimit float64
	RateBurst int
	// History bounds the finished requests and tasks kept for status.
	History int
}

func DefaultConfig() Config {
	epoch, _ := time.Parse(ndn.TimestampFormat, common.DEF_KEYGEN_EPOCH)
	return Config{
		AccessPrefix:      ndn.MustParseName(common.DEF_ACCESS_PREFIX),
		Schedule:          common.DEF_SCHEDULE_NAME,
		CertLifetime:      common.DEF_CERT_FETCH_LIFETIME,
		ResponseFreshness: common.DEF_RESPONSE_FRESHNESS,
		Epoch:             epoch,
		Window:            common.DEF_KEYGEN_WINDOW,
		Step:              common.DEF_KEYGEN_STEP,
		Policy:            FailOpen,
		RateBurst:         5,
		History:           256,
	}
}

// Steps is the number of slots in one key-generation window.
func (c Config) Steps() int {
	if c.Step <= 0 {
		return 0
	}
	return int(c.Window / c.Step)
}

func (c Config) Validate() error {
	switch {
	case c.AccessPrefix.Len() == 0:
		return fmt.Errorf("manager: empty access prefix")
	case c.Schedule == "":
		return fmt.Errorf("manager: empty schedule name")
	case c.CertLifetime <= 0:
		return fmt.Errorf("manager: certificate lifetime must be positive")
	case c.CertRetries < 0:
		return fmt.Errorf("manager: negative certificate retries")
	case c.Step <= 0 || c.Window < c.Step:
		return fmt.Errorf("manager: window %s must hold at least one step of %s", c.Window, c.Step)
	case c.RateLimit < 0:
		return fmt.Errorf("manager: negative rate limit")
	}
	_, err := ParsePolicy(string(c.Policy))
	return err
}

func (c Config) certRetry() retry.Config {
	r := retry.DefaultConfig()
	r.MaxRetries = c.CertRetries
	return r
}
