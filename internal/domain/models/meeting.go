// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"fmt"
	"net/url"
	"time"
)

// Platform is a meeting platform supported by the upstream bot service.
type Platform string

// Supported platforms.
const (
	PlatformGoogleMeet Platform = "google_meet"
	PlatformZoom       Platform = "zoom"
)

// IsValid reports whether the platform is one the upstream accepts.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformGoogleMeet, PlatformZoom:
		return true
	}
	return false
}

// MeetingURL builds the join URL for a native meeting id on this platform.
func (p Platform) MeetingURL(nativeMeetingID string) string {
	switch p {
	case PlatformGoogleMeet:
		return "https://meet.google.com/" + url.PathEscape(nativeMeetingID)
	case PlatformZoom:
		return "https://zoom.us/j/" + url.PathEscape(nativeMeetingID)
	}
	return ""
}

// MeetingState is the lifecycle state of a meeting.
type MeetingState string

// Lifecycle states. FINISHED and ERROR are terminal.
const (
	StatePending   MeetingState = "PENDING"
	StateLive      MeetingState = "LIVE"
	StateFinishing MeetingState = "FINISHING"
	StateFinished  MeetingState = "FINISHED"
	StateError     MeetingState = "ERROR"
)

// IsTerminal reports whether no further transition can leave the state.
func (s MeetingState) IsTerminal() bool {
	return s == StateFinished || s == StateError
}

// transitions is the complete lifecycle graph.
var transitions = map[MeetingState][]MeetingState{
	StatePending:   {StateLive, StateError},
	StateLive:      {StateFinishing, StateError},
	StateFinishing: {StateFinished, StateError},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to MeetingState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Meeting is the local record of an upstream bot session.
type Meeting struct {
	UID                string       `json:"uid"`
	Platform           Platform     `json:"platform"`
	NativeMeetingID    string       `json:"native_meeting_id"`
	UpstreamMeetingID  string       `json:"upstream_meeting_id,omitempty"`
	State              MeetingState `json:"state"`
	StateVersion       uint64       `json:"state_version"`
	BotName            string       `json:"bot_name,omitempty"`
	Language           string       `json:"language,omitempty"`
	Task               string       `json:"task,omitempty"`
	ErrorReason        string       `json:"error_reason,omitempty"`
	CreatedBy          string       `json:"created_by,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	FinishingSince     *time.Time   `json:"finishing_since,omitempty"`
	FinalizedAt        *time.Time   `json:"finalized_at,omitempty"`
	// PreviousMeetingUID is the meeting that held the identity before this one.
	PreviousMeetingUID string       `json:"previous_meeting_uid,omitempty"`
}

// Identity returns the external identity of the meeting.
func (m *Meeting) Identity() MeetingIdentity {
	return MeetingIdentity{Platform: m.Platform, NativeMeetingID: m.NativeMeetingID}
}

// ConstructedURL returns the platform join URL for the meeting.
func (m *Meeting) ConstructedURL() string {
	return m.Platform.MeetingURL(m.NativeMeetingID)
}

// IdentityReleased reports whether another meeting may claim this meeting's identity at now.
// FINISHED releases immediately, ERROR only after the cooldown.
func (m *Meeting) IdentityReleased(now time.Time, cooldown time.Duration) bool {
	switch m.State {
	case StateFinished:
		return true
	case StateError:
		return !now.Before(m.UpdatedAt.Add(cooldown))
	}
	return false
}

// Tags generates a consistent set of tags for the meeting.
func (m *Meeting) Tags() []string {
	if m == nil {
		return nil
	}

	tags := []string{}
	if m.UID != "" {
		tags = append(tags, m.UID)
		tags = append(tags, fmt.Sprintf("meeting_uid:%s", m.UID))
	}
	if m.Platform != "" {
		tags = append(tags, fmt.Sprintf("platform:%s", m.Platform))
	}
	if m.NativeMeetingID != "" {
		tags = append(tags, fmt.Sprintf("native_meeting_id:%s", m.NativeMeetingID))
	}
	if m.State != "" {
		tags = append(tags, fmt.Sprintf("state:%s", m.State))
	}
	return tags
}

// MeetingIdentity is the externally visible key of a meeting.
type MeetingIdentity struct {
	Platform        Platform `json:"platform"`
	NativeMeetingID string   `json:"native_meeting_id"`
}

func (i MeetingIdentity) String() string {
	return string(i.Platform) + "/" + i.NativeMeetingID
}

// SessionParams are the optional bot parameters passed upstream on create.
type SessionParams struct {
	BotName  string `json:"bot_name,omitempty"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
}

// CreateMeetingRequest is a tenant request to start a bot in a meeting.
type CreateMeetingRequest struct {
	Platform        Platform `json:"platform"`
	NativeMeetingID string   `json:"native_meeting_id"`
	BotName         string   `json:"bot_name,omitempty"`
	Language        string   `json:"language,omitempty"`
	Task            string   `json:"task,omitempty"`
}

// Params extracts the upstream session parameters.
func (r CreateMeetingRequest) Params() SessionParams {
	return SessionParams{BotName: r.BotName, Language: r.Language, Task: r.Task}
}

// UpstreamSession describes a running bot as reported by the upstream.
type UpstreamSession struct {
	UpstreamMeetingID string   `json:"meeting_id"`
	Platform          Platform `json:"platform"`
	NativeMeetingID   string   `json:"native_meeting_id"`
	Status            string   `json:"status,omitempty"`
	ContainerID       string   `json:"container_id,omitempty"`
	StartedAt         string   `json:"started_at,omitempty"`
}
