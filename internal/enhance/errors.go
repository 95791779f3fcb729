package enhance

import "errors"

// Enhancement errors.
var (
	// ErrNoInterceptor is returned when an interception point has no
	// interceptor name. This is a plugin-authoring mistake and aborts
	// enhancement of the unit before any rewrite is committed.
	ErrNoInterceptor = errors.New("interception point has no interceptor name")

	// ErrInterceptorUnavailable is returned when an interceptor cannot
	// be resolved or constructed in the target domain.
	ErrInterceptorUnavailable = errors.New("interceptor unavailable in domain")

	// ErrContractMismatch is returned when a resolved interceptor does
	// not implement the contract its point kind requires.
	ErrContractMismatch = errors.New("interceptor does not implement required contract")

	// ErrNilClass is returned when enhancing a unit with no class table.
	ErrNilClass = errors.New("class table is nil")
)
