package besmart

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSession means login did not yield a device identifier.
	ErrNoSession = errors.New("besmart: no session")
	// ErrRoomNotFound means a room could not be resolved for a write.
	ErrRoomNotFound = errors.New("besmart: room not found")
	// ErrInvalidPayload means room data arrived with a non-zero error field.
	ErrInvalidPayload = errors.New("besmart: room data reports an error")
	// ErrUnsupportedHvacMode is returned for HVAC modes without a season code.
	ErrUnsupportedHvacMode = errors.New("besmart: unsupported hvac mode")
)

// HTTPStatusError is a non-2xx vendor response.
type HTTPStatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("besmart %s http %d: %s", e.Endpoint, e.Status, strings.TrimSpace(e.Body))
}

// APIError is a vendor acknowledgement carrying an unexpected error code.
type APIError struct {
	Endpoint string
	Code     string
}

func (e APIError) Error() string {
	return fmt.Sprintf("besmart %s rejected: error=%q", e.Endpoint, e.Code)
}
