package lalia

import (
	"github.com/srnnkls/lalia/pkg/dispatch"
	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/messages"
	"github.com/srnnkls/lalia/pkg/schema"
	"github.com/srnnkls/lalia/pkg/session"
)

// Type re-exports for caller convenience

// Message is re-exported from the messages package
type Message = messages.Message

// MessageBuffer is re-exported from the messages package
type MessageBuffer = messages.MessageBuffer

// Session is re-exported from the session package
type Session = session.Session

// Callback is re-exported from the dispatch package
type Callback = dispatch.Callback

// DispatchCall is re-exported from the dispatch package
type DispatchCall = dispatch.DispatchCall

// Schema is re-exported from the schema package
type Schema = schema.Schema

// Field is re-exported from the schema package
type Field = schema.Field

// FinishReason is re-exported from the llm package
type FinishReason = llm.FinishReason

// FinishReason constants re-exported from the llm package
const (
	FinishReasonStop         = llm.FinishReasonStop
	FinishReasonLength       = llm.FinishReasonLength
	FinishReasonFunctionCall = llm.FinishReasonFunctionCall
)

// Message constructors re-exported from the messages package
var (
	System    = messages.System
	User      = messages.User
	Assistant = messages.Assistant
	Function  = messages.Function
)
