package llms

import (
	"encoding/base64"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Part type tags of the JSON encoding
const (
	PartTypeText         = "text"
	PartTypeImageURL     = "image_url"
	PartTypeBinary       = "binary"
	PartTypeToolCall     = "tool_call"
	PartTypeToolResponse = "tool_response"
)

// messageJSON is the stored form of a Message.
// A message with a single text part is stored as {"role","text"}.
type messageJSON struct {
	Role  Role              `json:"role"`
	Text  string            `json:"text,omitempty"`
	Parts []json.RawMessage `json:"parts,omitempty"`
}

type partJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ImageURL     *imageURLJSON     `json:"image_url,omitempty"`
	Binary       *binaryJSON       `json:"binary,omitempty"`
	ToolCall     *toolCallJSON     `json:"tool_call,omitempty"`
	ToolResponse *toolResponseJSON `json:"tool_response,omitempty"`
}

type imageURLJSON struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type binaryJSON struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type toolCallJSON struct {
	ID       string        `json:"id"`
	Type     string        `json:"type,omitempty"`
	Function *FunctionCall `json:"function,omitempty"`
}

type toolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok && tp.Text != "" {
			return json.Marshal(messageJSON{Role: m.Role, Text: tp.Text})
		}
	}

	mj := messageJSON{
		Role:  m.Role,
		Parts: make([]json.RawMessage, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		js, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		mj.Parts = append(mj.Parts, js)
	}
	return json.Marshal(mj)
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	if !mj.Role.Valid() {
		return errors.WithMessagef(ErrUnexpectedRole, "%q", mj.Role)
	}

	m.Role = mj.Role
	m.Parts = nil
	if mj.Text != "" {
		m.Parts = []ContentPart{TextContent{Text: mj.Text}}
		return nil
	}

	for i, raw := range mj.Parts {
		part, err := UnmarshalContentPart(raw)
		if err != nil {
			return errors.WithMessagef(err, "part %d", i)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// UnmarshalContentPart decodes one tagged content part
func UnmarshalContentPart(data []byte) (ContentPart, error) {
	var pj partJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, errors.Wrap(err, "failed to decode content part")
	}

	switch pj.Type {
	case PartTypeText:
		return TextContent{Text: pj.Text}, nil
	case PartTypeImageURL:
		if pj.ImageURL == nil || pj.ImageURL.URL == "" {
			return nil, errors.New("image_url field is required for image_url type")
		}
		return ImageURLContent{URL: pj.ImageURL.URL, Detail: pj.ImageURL.Detail}, nil
	case PartTypeBinary:
		if pj.Binary == nil {
			return nil, errors.New("binary field is required for binary type")
		}
		decoded, err := base64.StdEncoding.DecodeString(pj.Binary.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode binary data")
		}
		return BinaryContent{MIMEType: pj.Binary.MIMEType, Data: decoded}, nil
	case PartTypeToolCall:
		if pj.ToolCall == nil || pj.ToolCall.ID == "" {
			return nil, errors.New("tool_call field with id is required for tool_call type")
		}
		fc := pj.ToolCall.Function
		if fc == nil {
			fc = &FunctionCall{}
		}
		return ToolCall{ID: pj.ToolCall.ID, Type: pj.ToolCall.Type, FunctionCall: fc}, nil
	case PartTypeToolResponse:
		if pj.ToolResponse == nil || pj.ToolResponse.ToolCallID == "" {
			return nil, errors.New("tool_response field with tool_call_id is required for tool_response type")
		}
		return ToolCallResponse{
			ToolCallID: pj.ToolResponse.ToolCallID,
			Name:       pj.ToolResponse.Name,
			Content:    pj.ToolResponse.Content,
			IsError:    pj.ToolResponse.IsError,
		}, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", pj.Type)
	}
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{Type: PartTypeText, Text: tc.Text})
}

// MarshalJSON implements json.Marshaler for ImageURLContent
func (iuc ImageURLContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type:     PartTypeImageURL,
		ImageURL: &imageURLJSON{URL: iuc.URL, Detail: iuc.Detail},
	})
}

// MarshalJSON implements json.Marshaler for BinaryContent
func (bc BinaryContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type: PartTypeBinary,
		Binary: &binaryJSON{
			MIMEType: bc.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(bc.Data),
		},
	})
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type: PartTypeToolCall,
		ToolCall: &toolCallJSON{
			ID:       tc.ID,
			Type:     tc.Type,
			Function: tc.FunctionCall,
		},
	})
}

// MarshalJSON implements json.Marshaler for ToolCallResponse
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type: PartTypeToolResponse,
		ToolResponse: &toolResponseJSON{
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
			Content:    tc.Content,
			IsError:    tc.IsError,
		},
	})
}
