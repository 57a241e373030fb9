// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// UserMeetingLink grants a tenant user access to a meeting.
type UserMeetingLink struct {
	UserID     string    `json:"user_id"`
	MeetingUID string    `json:"meeting_uid"`
	CreatedAt  time.Time `json:"created_at"`
}

// APIToken maps a hashed tenant API key to the user it authenticates.
// The plain key is never stored.
type APIToken struct {
	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
