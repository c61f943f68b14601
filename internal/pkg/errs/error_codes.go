/*
Package errs provides custom error types and application-level error code constants.

These error codes identify connection, protocol and relay conditions both inside the
client core and in the error events the relay sends back over the wire.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Protocol and Content Errors
const (
	// ErrMalformedFrame indicates a frame that could not be decoded into a known event.
	ErrMalformedFrame = 2001

	// ErrServerReported indicates an error event sent by the signaling server.
	ErrServerReported = 2002

	// ErrAlreadyJoined indicates a second join on a connection that has already joined.
	ErrAlreadyJoined = 2003

	// ErrNotJoined indicates an action that requires a joined session.
	ErrNotJoined = 2004

	// ErrUnknownTarget indicates a direct event addressed to a user that is not connected.
	ErrUnknownTarget = 2005

	// ErrRoomIsFull indicates that the relay room has reached its connection limit.
	ErrRoomIsFull = 2006

	// ErrInvalidAttachment indicates a file attachment that is empty, unreadable or inconsistent.
	ErrInvalidAttachment = 2101

	// ErrFileSizeTooLarge indicates an attachment larger than the allowed maximum.
	ErrFileSizeTooLarge = 2102

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201
)

// 3xxx: Connection Errors
const (
	// ErrConnectTimeout indicates the transport did not open within the establish timeout.
	ErrConnectTimeout = 3001

	// ErrTransportError indicates a transport-level failure before the connection opened.
	ErrTransportError = 3002

	// ErrUnexpectedClose indicates a non-normal close after a successful open.
	ErrUnexpectedClose = 3003

	// ErrMaxReconnectExceeded indicates the reconnection policy gave up.
	ErrMaxReconnectExceeded = 3004

	// ErrSendWhileDisconnected indicates a send attempted without an open transport.
	ErrSendWhileDisconnected = 3005

	// ErrSendQueueFull indicates the outbound queue of the transport is saturated.
	ErrSendQueueFull = 3006
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general internal error.
	ErrUnknown = 5000
)
