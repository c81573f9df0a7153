package core

import "errors"

// Configuration-time errors. Registering a catalog or validating a policy
// against these is fatal at startup: the engine must not run with a policy
// that references actions it cannot execute.
var (
	ErrDuplicateAction = errors.New("response action already registered")
	ErrUnknownAction   = errors.New("unknown response action")
)
