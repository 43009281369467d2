// Package upstream ingests live-room chat events ("danmaku") and feeds them
// to the dialogue layer.
//
// The wire format follows the DouyinBarrageGrab push protocol: an outer
// envelope carrying a numeric message type and a Data field that is itself a
// JSON-encoded string. Field names are PascalCase as produced by the proxy.
package upstream

import (
	"encoding/json"
	"fmt"
)

// Kind is the upstream message type.
type Kind int

const (
	KindNone     Kind = 0
	KindChat     Kind = 1
	KindLike     Kind = 2
	KindEnter    Kind = 3
	KindFollow   Kind = 4
	KindGift     Kind = 5
	KindStats    Kind = 6
	KindFansclub Kind = 7
	KindShare    Kind = 8
	KindLiveEnd  Kind = 9
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindLike:
		return "like"
	case KindEnter:
		return "enter"
	case KindFollow:
		return "follow"
	case KindGift:
		return "gift"
	case KindStats:
		return "stats"
	case KindFansclub:
		return "fansclub"
	case KindShare:
		return "share"
	case KindLiveEnd:
		return "live_end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// User is the sender of an upstream event.
type User struct {
	ID       int64  `json:"Id"`
	Nickname string `json:"Nickname"`
	Gender   int    `json:"Gender"`
}

// Event is one decoded upstream message. Only the fields relevant to the
// event's Kind are populated.
type Event struct {
	Kind    Kind
	User    User
	Content string

	// RoomName is the streamer's nickname, when the proxy includes it.
	RoomName string

	// Gift fields (KindGift).
	GiftName     string
	GiftCount    int
	DiamondCount int

	// Like fields (KindLike).
	LikeCount int
	LikeTotal int

	// Enter fields (KindEnter).
	CurrentCount int

	// Stats fields (KindStats).
	OnlineUsers string
	TotalUsers  string

	// Fansclub fields (KindFansclub).
	FansClubName string
}

// envelope is the outer proxy message. Data is a JSON document encoded as a
// string; KindLiveEnd messages omit it.
type envelope struct {
	Type *int   `json:"Type"`
	Data string `json:"Data"`
}

// payload is the union of all inner message shapes. The proxy historically
// misspells the streamer field as "Onwer"; both spellings are accepted, and
// a non-object value (some proxy builds send a bare string) counts as absent.
type payload struct {
	User    User   `json:"User"`
	Content string `json:"Content"`

	Owner json.RawMessage `json:"Owner"`
	Onwer json.RawMessage `json:"Onwer"`

	GiftName     string `json:"GiftName"`
	GiftCount    int    `json:"GiftCount"`
	DiamondCount int    `json:"DiamondCount"`

	Count int `json:"Count"`
	Total int `json:"Total"`

	CurrentCount int `json:"CurrentCount"`

	OnlineUserCountStr string `json:"OnlineUserCountStr"`
	TotalUserCountStr  string `json:"TotalUserCountStr"`

	FansClubName string `json:"FansClubName"`
}

// owner is the streamer descriptor inside chat payloads.
type owner struct {
	Nickname string `json:"Nickname"`
}

// DecodeEnvelope parses one raw proxy message into an Event.
func DecodeEnvelope(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("upstream: decode envelope: %w", err)
	}
	if env.Type == nil {
		return Event{}, fmt.Errorf("upstream: envelope missing Type field")
	}
	kind := Kind(*env.Type)

	// Live-end carries no payload.
	if kind == KindLiveEnd {
		return Event{Kind: kind}, nil
	}
	if env.Data == "" {
		return Event{}, fmt.Errorf("upstream: envelope type %d missing Data field", kind)
	}

	var p payload
	if err := json.Unmarshal([]byte(env.Data), &p); err != nil {
		return Event{}, fmt.Errorf("upstream: decode payload for type %d: %w", kind, err)
	}

	ev := Event{
		Kind:         kind,
		User:         p.User,
		Content:      p.Content,
		RoomName:     ownerNickname(p.Owner, p.Onwer),
		GiftName:     p.GiftName,
		GiftCount:    p.GiftCount,
		DiamondCount: p.DiamondCount,
		LikeCount:    p.Count,
		LikeTotal:    p.Total,
		CurrentCount: p.CurrentCount,
		OnlineUsers:  p.OnlineUserCountStr,
		TotalUsers:   p.TotalUserCountStr,
		FansClubName: p.FansClubName,
	}
	return ev, nil
}

// ownerNickname extracts the streamer nickname from whichever spelling the
// proxy used. Non-object values are ignored.
func ownerNickname(fields ...json.RawMessage) string {
	for _, raw := range fields {
		if len(raw) == 0 {
			continue
		}
		var o owner
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		if o.Nickname != "" {
			return o.Nickname
		}
	}
	return ""
}
