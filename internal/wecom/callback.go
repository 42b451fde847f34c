package wecom

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedCallback covers bodies and plaintexts that are neither usable
// XML nor usable JSON.
var ErrMalformedCallback = errors.New("wecom: malformed callback payload")

// xmlCallbackBody is the tag-delimited POST body form; Encrypt may or may
// not be CDATA-wrapped, which encoding/xml handles transparently.
type xmlCallbackBody struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// ExtractEncrypt pulls the encrypted blob out of a callback body. Both the
// XML form and the JSON form ({"encrypt": "..."}) are accepted.
func ExtractEncrypt(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrMalformedCallback)
	}

	if trimmed[0] == '{' {
		if enc := gjson.GetBytes(trimmed, "encrypt"); enc.Exists() && enc.String() != "" {
			return enc.String(), nil
		}
		if enc := gjson.GetBytes(trimmed, "Encrypt"); enc.Exists() && enc.String() != "" {
			return enc.String(), nil
		}
		return "", fmt.Errorf("%w: json body without encrypt field", ErrMalformedCallback)
	}

	var parsed xmlCallbackBody
	if err := xml.Unmarshal(trimmed, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if parsed.Encrypt == "" {
		return "", fmt.Errorf("%w: xml body without Encrypt field", ErrMalformedCallback)
	}
	return parsed.Encrypt, nil
}

// CallbackNotice is the decrypted notification payload. It carries no
// message content, only the pointers needed to seed a drain: a short-lived
// delivery token and the channel instance the messages belong to.
type CallbackNotice struct {
	ToUserName string
	CreateTime int64
	MsgType    string
	Event      string
	Token      string
	OpenKfID   string
}

type xmlCallbackNotice struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	CreateTime int64    `xml:"CreateTime"`
	MsgType    string   `xml:"MsgType"`
	Event      string   `xml:"Event"`
	Token      string   `xml:"Token"`
	OpenKfID   string   `xml:"OpenKfId"`
}

// ParseCallbackNotice parses the decrypted plaintext, which the platform may
// express as XML or as JSON depending on the callback mode.
func ParseCallbackNotice(plain []byte) (*CallbackNotice, error) {
	trimmed := bytes.TrimSpace(plain)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrMalformedCallback)
	}

	if trimmed[0] == '{' {
		result := gjson.ParseBytes(trimmed)
		notice := &CallbackNotice{
			ToUserName: result.Get("to_user_name").String(),
			CreateTime: result.Get("create_time").Int(),
			MsgType:    result.Get("msg_type").String(),
			Event:      result.Get("event").String(),
			Token:      result.Get("token").String(),
			OpenKfID:   result.Get("open_kf_id").String(),
		}
		if notice.OpenKfID == "" {
			notice.OpenKfID = result.Get("open_kfid").String()
		}
		return notice, nil
	}

	var parsed xmlCallbackNotice
	if err := xml.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	return &CallbackNotice{
		ToUserName: parsed.ToUserName,
		CreateTime: parsed.CreateTime,
		MsgType:    parsed.MsgType,
		Event:      parsed.Event,
		Token:      parsed.Token,
		OpenKfID:   parsed.OpenKfID,
	}, nil
}
