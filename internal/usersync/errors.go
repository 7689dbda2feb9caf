package usersync

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrFallbackUnavailable means the remote failed and no fallback dataset could be served.
var ErrFallbackUnavailable = errors.New("usersync: fallback dataset unavailable")

var noOpLogger = zap.NewNop()

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opImporterNew = "usersync.importer.new"
	opServiceNew  = "usersync.service.new"
	opRun         = "usersync.run"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
