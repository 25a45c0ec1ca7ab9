package authkernel

// Observer receives engine outcomes. The metrics package implements it with
// Prometheus collectors; a nil Observer disables the hooks.
type Observer interface {
	LoginResult(result string)
	TokenVerify(result string)
	Revocation(kind string)
	FraudDecision(decision string, score float64)
}

// Login and verification result labels.
const (
	ResultSuccess        = "success"
	ResultTwoFactor      = "two_factor_required"
	ResultInvalid        = "invalid_credentials"
	ResultLocked         = "locked"
	ResultInactive       = "inactive"
	ResultBlocked        = "blocked"
	ResultExpired        = "expired"
	ResultRevoked        = "revoked"
	ResultUnavailable    = "unavailable"
	ResultInvalidToken   = "invalid_token"
	ResultTwoFactorError = "two_factor_failed"
)

// Revocation kinds.
const (
	RevokeToken     = "token"
	RevokePrincipal = "principal"
)

type nopObserver struct{}

func (nopObserver) LoginResult(string)            {}
func (nopObserver) TokenVerify(string)            {}
func (nopObserver) Revocation(string)             {}
func (nopObserver) FraudDecision(string, float64) {}
