package pg

import "errors"

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrEmptyConnectionString    = errors.New("empty postgres connection string, use DATABASE_URL env var")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
	ErrListen                   = errors.New("failed to listen on notification channel")
	ErrListenTimeout            = errors.New("listener did not confirm subscription in time")
	ErrPayloadTooLarge          = errors.New("notification payload exceeds postgres limit")
)
