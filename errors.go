package mongoservice

// Error codes shared by the service, the event-bus proxy and the script
// binding. Codes survive a trip over the event bus, so keep them stable.
const (
	ErrCodeInvalidArgs        = "mongoservice.invalid_arguments"
	ErrCodeInvalidWriteOption = "mongoservice.invalid_write_option"
	ErrCodeInvalidCollection  = "mongoservice.invalid_collection"
	ErrCodeInvalidConfig      = "mongoservice.invalid_config"
	ErrCodeStopped            = "mongoservice.stopped"
	ErrCodeUnknownAction      = "mongoservice.unknown_action"
)

// codedError is an error that carries only a code string.
type codedError string

func (e codedError) Error() string     { return string(e) }
func (e codedError) ErrorCode() string { return string(e) }

var (
	ErrInvalidArgs        error = codedError(ErrCodeInvalidArgs)
	ErrInvalidWriteOption error = codedError(ErrCodeInvalidWriteOption)
	ErrInvalidCollection  error = codedError(ErrCodeInvalidCollection)
	ErrInvalidConfig      error = codedError(ErrCodeInvalidConfig)
	ErrStopped            error = codedError(ErrCodeStopped)
	ErrUnknownAction      error = codedError(ErrCodeUnknownAction)
)
