/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
diagnostics on the client and HTTP/WebSocket error replies on the relay.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the message template and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Protocol and Content Errors
	ErrMalformedFrame:        {Code: ErrMalformedFrame, Message: "Malformed frame: %v"},
	ErrServerReported:        {Code: ErrServerReported, Message: "Server reported an error: %s"},
	ErrAlreadyJoined:         {Code: ErrAlreadyJoined, Message: "Already joined on this connection."},
	ErrNotJoined:             {Code: ErrNotJoined, Message: "Join the chat before sending."},
	ErrUnknownTarget:         {Code: ErrUnknownTarget, Message: "Recipient %s is not online."},
	ErrRoomIsFull:            {Code: ErrRoomIsFull, Message: "Room is full."},
	ErrInvalidAttachment:     {Code: ErrInvalidAttachment, Message: "Invalid attachment: %s"},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},

	// 3xxx: Connection Errors
	ErrConnectTimeout:        {Code: ErrConnectTimeout, Message: "Connection not established within %s."},
	ErrTransportError:        {Code: ErrTransportError, Message: "Failed to connect to the signaling server."},
	ErrUnexpectedClose:       {Code: ErrUnexpectedClose, Message: "Connection closed unexpectedly (code %d)."},
	ErrMaxReconnectExceeded:  {Code: ErrMaxReconnectExceeded, Message: "Gave up reconnecting after %d attempts."},
	ErrSendWhileDisconnected: {Code: ErrSendWhileDisconnected, Message: "Not connected to the signaling server."},
	ErrSendQueueFull:         {Code: ErrSendQueueFull, Message: "Outbound queue is full."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
