package payload

import (
	"encoding/json"
	"fmt"

	xerrors "engage-service/internal/pkg/errors"
)

// APNsPayload is the JSON body posted to APNs. The device token travels in
// the request path, not in the body.
type APNsPayload struct {
	Aps  Aps                    `json:"aps"`
	Data map[string]interface{} `json:"data"`
}

type Aps struct {
	Alert            *Alert `json:"alert,omitempty"`
	Sound            string `json:"sound,omitempty"`
	MutableContent   int    `json:"mutable-content"`
	ContentAvailable *int   `json:"content-available,omitempty"`
}

type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type APNsBuilder struct{}

// BuildAPNs maps msg onto an APNs payload. The custom value stays a JSON
// value; for objects "text" is dropped (the alert body already carries it)
// and a numeric "payment_id" becomes its decimal string.
func BuildAPNs(msg Message) (*APNsPayload, error) {
	p := &APNsPayload{
		Aps: Aps{
			Alert:          &Alert{Title: msg.Subject, Body: msg.Body},
			Sound:          "default",
			MutableContent: 1,
		},
		Data: map[string]interface{}{"id": msg.ID},
	}
	if msg.Silent {
		// background pushes carry no alert
		one := 1
		p.Aps.Alert = nil
		p.Aps.Sound = ""
		p.Aps.ContentAvailable = &one
	}

	if !msg.hasCustom() {
		return p, nil
	}
	if msg.CustomKey == "id" {
		return nil, fmt.Errorf("%w: custom key %q collides with notification id", xerrors.ErrPayloadEncoding, msg.CustomKey)
	}

	v, err := decodeCustom(msg.CustomData)
	if err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]interface{}); ok {
		delete(obj, "text")
		if n, ok := obj["payment_id"].(json.Number); ok {
			s, err := decimalString(n)
			if err != nil {
				return nil, err
			}
			obj["payment_id"] = s
		}
	}
	p.Data[msg.CustomKey] = v
	return p, nil
}

func (APNsBuilder) Build(_ string, msg Message) ([]byte, error) {
	p, err := BuildAPNs(msg)
	if err != nil {
		return nil, err
	}
	return compactJSON(p)
}
