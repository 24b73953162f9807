package httprate

import (
	"github.com/cnlangzi/knownbots"
)

// Verifier decides whether a request comes from a verified crawler.
type Verifier interface {
	Verified(ua, ip string) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ua, ip string) bool

func (f VerifierFunc) Verified(ua, ip string) bool { return f(ua, ip) }

type knownbotsVerifier struct {
	kb *knownbots.Validator
}

// KnownBots verifies crawlers by user agent and source address. A nil
// validator loads the default knownbots lists.
func KnownBots(kb *knownbots.Validator) (Verifier, error) {
	if kb == nil {
		var err error
		if kb, err = knownbots.New(); err != nil {
			return nil, err
		}
	}
	return &knownbotsVerifier{kb: kb}, nil
}

// Verified is true only for bots whose claimed identity checks out. A bot
// user agent from an unverified address is treated as an ordinary client.
func (v *knownbotsVerifier) Verified(ua, ip string) bool {
	res := v.kb.Validate(ua, ip)
	return res.IsBot && res.Status == knownbots.StatusVerified
}
