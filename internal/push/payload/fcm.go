package payload

import (
	"encoding/json"
	"fmt"

	xerrors "engage-service/internal/pkg/errors"
)

// FCMRequest is the FCM HTTP v1 send body.
type FCMRequest struct {
	Message FCMMessage `json:"message"`
}

type FCMMessage struct {
	Token        string            `json:"token"`
	Notification *FCMNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data"`
	Android      *FCMAndroidConfig `json:"android,omitempty"`
}

type FCMNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type FCMAndroidConfig struct {
	Priority string `json:"priority,omitempty"`
}

type FCMBuilder struct{}

// BuildFCM maps msg onto an FCM message. FCM only accepts string values in
// the data block, so the custom value is carried as a JSON string whose
// top-level scalars are already strings.
func BuildFCM(token string, msg Message) (*FCMRequest, error) {
	data := map[string]string{"id": msg.ID}

	if msg.hasCustom() {
		if msg.CustomKey == "id" {
			return nil, fmt.Errorf("%w: custom key %q collides with notification id", xerrors.ErrPayloadEncoding, msg.CustomKey)
		}
		v, err := decodeCustom(msg.CustomData)
		if err != nil {
			return nil, err
		}
		if obj, ok := v.(map[string]interface{}); ok {
			for k, field := range obj {
				switch f := field.(type) {
				case bool:
					obj[k] = fmt.Sprintf("%t", f)
				case json.Number:
					s, err := decimalString(f)
					if err != nil {
						return nil, err
					}
					obj[k] = s
				}
			}
		}
		encoded, err := compactJSON(v)
		if err != nil {
			return nil, err
		}
		data[msg.CustomKey] = string(encoded)
	}

	req := &FCMRequest{Message: FCMMessage{
		Token: token,
		Data:  data,
		Android: &FCMAndroidConfig{
			Priority: "high",
		},
	}}
	if !msg.Silent {
		req.Message.Notification = &FCMNotification{Title: msg.Subject, Body: msg.Body}
	}
	return req, nil
}

func (FCMBuilder) Build(token string, msg Message) ([]byte, error) {
	req, err := BuildFCM(token, msg)
	if err != nil {
		return nil, err
	}
	return compactJSON(req)
}
