// Package models provides the shared data types for the llmist agent
// runtime: transcript messages, gadget calls, stream events, and the
// execution tree's node shapes. These types are deliberately provider- and
// transport-agnostic; adapters for specific LLM SDKs live outside this
// module.
package models

// Role indicates the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPartType discriminates the kind of content carried by a ContentPart.
type ContentPartType string

const (
	ContentText         ContentPartType = "text"
	ContentImageURL     ContentPartType = "image_url"
	ContentImageBase64  ContentPartType = "image_base64"
	ContentAudioBase64  ContentPartType = "audio_base64"
)

// ContentPart is one piece of a (possibly multimodal) message. Exactly one
// of Text/URL/Data is populated, matching Type.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text holds the literal text for ContentText.
	Text string `json:"text,omitempty"`

	// URL holds a remote resource locator for ContentImageURL.
	URL string `json:"url,omitempty"`

	// Data holds base64-encoded bytes for ContentImageBase64/ContentAudioBase64.
	Data string `json:"data,omitempty"`

	// MediaType is the MIME type of Data (e.g. "image/png", "audio/wav").
	MediaType string `json:"media_type,omitempty"`
}

// TextPart is a convenience constructor for a plain-text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentText, Text: text}
}

// ImageURLPart constructs an image content part referencing a URL.
func ImageURLPart(url string) ContentPart {
	return ContentPart{Type: ContentImageURL, URL: url}
}

// ImageBase64Part constructs an inline base64-encoded image content part.
func ImageBase64Part(data, mediaType string) ContentPart {
	return ContentPart{Type: ContentImageBase64, Data: data, MediaType: mediaType}
}

// AudioBase64Part constructs an inline base64-encoded audio content part.
func AudioBase64Part(data, mediaType string) ContentPart {
	return ContentPart{Type: ContentAudioBase64, Data: data, MediaType: mediaType}
}

// Message is one turn of the conversation transcript the agent loop builds
// and feeds back to the LLM provider. Content may be a single string or an
// ordered list of multimodal parts; Text() flattens either representation
// for providers/loggers that only want plain text.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{TextPart(text)}}
}

// Text concatenates every text part of the message, in order, separated by
// newlines. Non-text parts are ignored.
func (m Message) Text() string {
	var out string
	for i, p := range m.Parts {
		if p.Type != ContentText {
			continue
		}
		if i > 0 && out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}
