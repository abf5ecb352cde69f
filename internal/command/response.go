package command

import (
	"encoding/json"

	"github.com/cjeanneret/WinkGo/internal/persist"
)

// Response types.
const (
	TypeStatus       = "status"
	TypeSuccess      = "success"
	TypeError        = "error"
	TypeConfig       = "config"
	TypeNotification = "notification"
)

// Notification values sent on headlight transitions.
const (
	HeadlightsOn  = "headlights_on"
	HeadlightsOff = "headlights_off"
)

// Status is the SystemStatus snapshot. Bus counters are only filled in
// bus detection mode.
type Status struct {
	LeftPosition    int    `json:"leftPosition"`
	RightPosition   int    `json:"rightPosition"`
	HeadlightsOn    bool   `json:"headlightsOn"`
	IsAnimating     bool   `json:"isAnimating"`
	MotorsEnabled   bool   `json:"motorsEnabled"`
	LeftMoving      bool   `json:"leftMoving"`
	RightMoving     bool   `json:"rightMoving"`
	AnimationState  string `json:"animationState"`
	AnimationCycle  int    `json:"animationCycle"`
	MinPosition     int    `json:"minPosition"`
	MaxPosition     int    `json:"maxPosition"`
	Detection       string `json:"detection"`
	FramesReceived  uint64 `json:"framesReceived,omitempty"`
	FramesMatched   uint64 `json:"framesMatched,omitempty"`
	SilenceTimeouts uint64 `json:"silenceTimeouts,omitempty"`
	UptimeMs        int64  `json:"uptimeMs"`
}

// Equal ignores the uptime so it can be used for change detection.
func (s Status) Equal(o Status) bool {
	s.UptimeMs, o.UptimeMs = 0, 0
	return s == o
}

type StatusResponse struct {
	Type string `json:"type"`
	Status
}

type MessageResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ConfigResponse struct {
	Type string `json:"type"`
	persist.Config
}

type NotificationResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func NewStatus(s Status) StatusResponse {
	return StatusResponse{Type: TypeStatus, Status: s}
}

func Success(msg string) MessageResponse {
	return MessageResponse{Type: TypeSuccess, Message: msg}
}

func Error(msg string) MessageResponse {
	return MessageResponse{Type: TypeError, Message: msg}
}

func NewConfig(c persist.Config) ConfigResponse {
	return ConfigResponse{Type: TypeConfig, Config: c}
}

// Notify builds the unsolicited headlight notification.
func Notify(on bool) NotificationResponse {
	if on {
		return NotificationResponse{Type: TypeNotification, Status: HeadlightsOn}
	}
	return NotificationResponse{Type: TypeNotification, Status: HeadlightsOff}
}

// Encode renders a response as one line of JSON without the newline.
func Encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(Error("encode: " + err.Error()))
	}
	return string(b)
}
