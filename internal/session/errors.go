package session

import (
	"errors"

	"github.com/p-arndt/sessionbox/internal/provision"
)

// Sentinel errors
var (
	ErrEnvironmentUnavailable = provision.ErrEnvironmentUnavailable
	ErrProvisioning           = provision.ErrProvisioning
	ErrInvalidRequest         = errors.New("invalid request")
)
