// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"sort"
	"strconv"
	"time"
)

// TranscriptSegment is a single utterance of a meeting transcript.
// Segments are written once during finalization and never modified.
type TranscriptSegment struct {
	MeetingUID string    `json:"meeting_uid" msgpack:"meeting_uid"`
	StartTime  float64   `json:"start_time" msgpack:"start_time"`
	EndTime    float64   `json:"end_time" msgpack:"end_time"`
	Speaker    string    `json:"speaker,omitempty" msgpack:"speaker,omitempty"`
	Language   string    `json:"language,omitempty" msgpack:"language,omitempty"`
	Text       string    `json:"text" msgpack:"text"`
	CreatedAt  time.Time `json:"created_at,omitempty" msgpack:"created_at"`
}

// DedupKey returns the tuple that identifies the segment for deduplication:
// meeting, start time and speaker.
func (s TranscriptSegment) DedupKey() string {
	return s.MeetingUID + "|" + strconv.FormatFloat(s.StartTime, 'f', -1, 64) + "|" + s.Speaker
}

// SortSegments orders segments by start time, then speaker for equal starts.
func SortSegments(segments []TranscriptSegment) {
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].StartTime == segments[j].StartTime {
			return segments[i].Speaker < segments[j].Speaker
		}
		return segments[i].StartTime < segments[j].StartTime
	})
}

// TranscriptStatus labels where a transcript answer stands in the lifecycle.
type TranscriptStatus string

// Transcript status labels returned to tenants.
const (
	TranscriptStatusNotStarted TranscriptStatus = "not_started"
	TranscriptStatusLive       TranscriptStatus = "live"
	TranscriptStatusFinalizing TranscriptStatus = "finalizing"
	TranscriptStatusFinalized  TranscriptStatus = "finalized"
	TranscriptStatusStale      TranscriptStatus = "stale"
)

// TranscriptSource names the data source that produced a transcript answer.
type TranscriptSource string

// Transcript sources.
const (
	TranscriptSourceNone     TranscriptSource = "none"
	TranscriptSourceUpstream TranscriptSource = "upstream"
	TranscriptSourceLocal    TranscriptSource = "local"
)

// TranscriptView is the routed answer to a transcript read.
type TranscriptView struct {
	Meeting  *Meeting            `json:"meeting"`
	Status   TranscriptStatus    `json:"status"`
	Source   TranscriptSource    `json:"source"`
	Segments []TranscriptSegment `json:"segments"`
}
