// Package models defines the core data structures for TriageChat.
//
// It includes the conversation state, the core input/output envelopes, the
// persisted session records, and the HTTP response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxChatTextLength defines the maximum accepted length of a single user message
	MaxChatTextLength = 4096
	// MaxChannelLength defines the maximum length of a session channel label
	MaxChannelLength = 32
)

// Error variables for better error handling and testability
var (
	ErrEmptySessionID  = errors.New("session id cannot be empty")
	ErrChatTextTooLong = errors.New("chat text exceeds maximum length")
	ErrInvalidChannel  = errors.New("invalid session channel")
	ErrEmptyExternalID = errors.New("external id is required for this channel")
)

// Channel identifies the surface a session was created through.
type Channel string

const (
	// ChannelAPI is a session driven through the HTTP session endpoints.
	ChannelAPI Channel = "api"
	// ChannelWhatsApp is a session keyed by a WhatsApp sender number.
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelCLI is a session driven from the terminal.
	ChannelCLI Channel = "cli"
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelAPI, ChannelWhatsApp, ChannelCLI:
		return true
	default:
		return false
	}
}

// Session is a persisted conversation: the caller-held state blob stored on
// behalf of a surface that cannot hold it itself.
type Session struct {
	ID         string    `json:"id"`
	Channel    Channel   `json:"channel"`
	ExternalID string    `json:"external_id,omitempty"` // e.g. canonical phone number
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks the session before it is written.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrEmptySessionID
	}
	if !IsValidChannel(s.Channel) || len(s.Channel) > MaxChannelLength {
		return ErrInvalidChannel
	}
	if s.Channel == ChannelWhatsApp && s.ExternalID == "" {
		return ErrEmptyExternalID
	}
	return nil
}

// Turn is one entry of a session transcript.
type Turn struct {
	SessionID        string     `json:"session_id"`
	Turn             int        `json:"turn"`
	UserText         string     `json:"user_text"`
	AssistantMessage string     `json:"assistant_message"`
	Phase            Phase      `json:"phase"`
	Path             Path       `json:"path"`
	Intent           IntentType `json:"intent"`
	CreatedAt        time.Time  `json:"created_at"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records an outbound delivery attempt.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
