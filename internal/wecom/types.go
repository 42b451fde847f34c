package wecom

import (
	"encoding/json"
	"fmt"
)

// Origin identifies who produced a synced message.
type Origin int

// Origin values as delivered by the sync endpoint.
const (
	OriginCustomer Origin = 3
	OriginSystem   Origin = 4
	OriginServicer Origin = 5
)

// MsgType discriminates the payload variant carried by a SyncMessage.
type MsgType string

const (
	MsgTypeText         MsgType = "text"
	MsgTypeImage        MsgType = "image"
	MsgTypeVoice        MsgType = "voice"
	MsgTypeVideo        MsgType = "video"
	MsgTypeFile         MsgType = "file"
	MsgTypeLocation     MsgType = "location"
	MsgTypeLink         MsgType = "link"
	MsgTypeBusinessCard MsgType = "business_card"
	MsgTypeMiniprogram  MsgType = "miniprogram"
	MsgTypeMenu         MsgType = "msgmenu"
	MsgTypeEvent        MsgType = "event"
)

// Event types carried by event-typed messages.
const (
	EventEnterSession         = "enter_session"
	EventMsgSendFail          = "msg_send_fail"
	EventServicerStatusChange = "servicer_status_change"
	EventSessionStatusChange  = "session_status_change"
)

// SyncMessage is one item returned by the paged sync endpoint. Exactly one
// payload pointer matching MsgType is set; unrecognized types keep their raw
// payload in Raw so they can be passed through without loss.
type SyncMessage struct {
	MsgID          string  `json:"msgid"`
	OpenKfID       string  `json:"open_kfid"`
	ExternalUserID string  `json:"external_userid"`
	SendTime       int64   `json:"send_time"`
	Origin         Origin  `json:"origin"`
	ServicerUserID string  `json:"servicer_userid,omitempty"`
	MsgType        MsgType `json:"msgtype"`

	Text         *TextPayload         `json:"text,omitempty"`
	Image        *MediaPayload        `json:"image,omitempty"`
	Voice        *MediaPayload        `json:"voice,omitempty"`
	Video        *MediaPayload        `json:"video,omitempty"`
	File         *MediaPayload        `json:"file,omitempty"`
	Location     *LocationPayload     `json:"location,omitempty"`
	Link         *LinkPayload         `json:"link,omitempty"`
	BusinessCard *BusinessCardPayload `json:"business_card,omitempty"`
	Miniprogram  *MiniprogramPayload  `json:"miniprogram,omitempty"`
	Menu         *MenuPayload         `json:"msgmenu,omitempty"`
	Event        *EventPayload        `json:"event,omitempty"`

	// Raw holds the full item for message types this build does not know.
	Raw json.RawMessage `json:"-"`
}

// TextPayload carries a plain text message.
type TextPayload struct {
	Content string `json:"content"`
	MenuID  string `json:"menu_id,omitempty"`
}

// MediaPayload covers image, voice, video and file messages.
type MediaPayload struct {
	MediaID string `json:"media_id"`
}

// LocationPayload carries a shared location.
type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

// LinkPayload carries a shared web link.
type LinkPayload struct {
	Title  string `json:"title"`
	Desc   string `json:"desc"`
	URL    string `json:"url"`
	PicURL string `json:"pic_url"`
}

// BusinessCardPayload carries a contact card.
type BusinessCardPayload struct {
	UserID string `json:"userid"`
}

// MiniprogramPayload carries a mini-program card.
type MiniprogramPayload struct {
	AppID    string `json:"appid"`
	Title    string `json:"title"`
	PagePath string `json:"pagepath"`
}

// MenuPayload carries a menu reply message.
type MenuPayload struct {
	HeadContent string     `json:"head_content"`
	List        []MenuItem `json:"list"`
	TailContent string     `json:"tail_content"`
}

// MenuItem is one entry in a menu message.
type MenuItem struct {
	Type  string          `json:"type"`
	Click *MenuClickItem  `json:"click,omitempty"`
	View  *MenuViewItem   `json:"view,omitempty"`
	Text  *MenuTextNotice `json:"text,omitempty"`
}

type MenuClickItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type MenuViewItem struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

type MenuTextNotice struct {
	Content string `json:"content"`
}

// EventPayload carries the event_type discriminator and the union of the
// variant fields. Only the fields for the given event_type are populated.
type EventPayload struct {
	EventType      string `json:"event_type"`
	OpenKfID       string `json:"open_kfid"`
	ExternalUserID string `json:"external_userid"`
	Scene          string `json:"scene,omitempty"`
	SceneParam     string `json:"scene_param,omitempty"`

	// enter_session: single-use code for the event-triggered welcome send.
	WelcomeCode string `json:"welcome_code,omitempty"`

	// msg_send_fail
	FailMsgID string `json:"fail_msgid,omitempty"`
	FailType  int    `json:"fail_type,omitempty"`

	// servicer_status_change
	ServicerUserID string `json:"servicer_userid,omitempty"`
	Status         int    `json:"status,omitempty"`

	// session_status_change
	ChangeType        int    `json:"change_type,omitempty"`
	OldServicerUserID string `json:"old_servicer_userid,omitempty"`
	NewServicerUserID string `json:"new_servicer_userid,omitempty"`
}

// DecodeSyncMessage parses one raw sync item, keeping the raw bytes for
// unknown message types so they survive as a passthrough.
func DecodeSyncMessage(raw json.RawMessage) (*SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("wecom: decode sync message: %w", err)
	}
	if !msg.MsgType.known() {
		msg.Raw = raw
	}
	return &msg, nil
}

func (t MsgType) known() bool {
	switch t {
	case MsgTypeText, MsgTypeImage, MsgTypeVoice, MsgTypeVideo, MsgTypeFile,
		MsgTypeLocation, MsgTypeLink, MsgTypeBusinessCard, MsgTypeMiniprogram,
		MsgTypeMenu, MsgTypeEvent:
		return true
	}
	return false
}

// ContentDescriptor is the normalized shape handed to the dispatcher: the
// extracted text where the type has one, plus a media id where it does not.
type ContentDescriptor struct {
	Kind    MsgType
	Text    string
	MediaID string
}

// Content extracts a dispatchable descriptor from the message. The switch is
// total over the message taxonomy; a new MsgType constant without a case
// here falls into the passthrough arm and is reported as such.
func (m *SyncMessage) Content() ContentDescriptor {
	d := ContentDescriptor{Kind: m.MsgType}
	switch m.MsgType {
	case MsgTypeText:
		if m.Text != nil {
			d.Text = m.Text.Content
		}
	case MsgTypeImage:
		if m.Image != nil {
			d.MediaID = m.Image.MediaID
		}
	case MsgTypeVoice:
		if m.Voice != nil {
			d.MediaID = m.Voice.MediaID
		}
	case MsgTypeVideo:
		if m.Video != nil {
			d.MediaID = m.Video.MediaID
		}
	case MsgTypeFile:
		if m.File != nil {
			d.MediaID = m.File.MediaID
		}
	case MsgTypeLocation:
		if m.Location != nil {
			d.Text = fmt.Sprintf("[location] %s %s (%f,%f)",
				m.Location.Name, m.Location.Address, m.Location.Latitude, m.Location.Longitude)
		}
	case MsgTypeLink:
		if m.Link != nil {
			d.Text = fmt.Sprintf("[link] %s %s", m.Link.Title, m.Link.URL)
		}
	case MsgTypeBusinessCard:
		if m.BusinessCard != nil {
			d.Text = fmt.Sprintf("[business_card] %s", m.BusinessCard.UserID)
		}
	case MsgTypeMiniprogram:
		if m.Miniprogram != nil {
			d.Text = fmt.Sprintf("[miniprogram] %s %s", m.Miniprogram.Title, m.Miniprogram.AppID)
		}
	case MsgTypeMenu:
		if m.Menu != nil {
			d.Text = m.Menu.HeadContent
		}
	case MsgTypeEvent:
		// Events never reach the dispatcher; routed separately.
	default:
		d.Text = fmt.Sprintf("[%s]", m.MsgType)
	}
	return d
}
