// Package chat implements the conversation service: merging the legacy
// embedded message list with the append-only message stream, read
// reconciliation, sends with the blocking gate, and live delivery over the
// WebSocket hub.
package chat

import (
	"sort"
	"time"

	"github.com/durvesh-thorat/RETRIVA/models"
)

// messageKey is the merge identity of a message: its id when present, the
// timestamp otherwise. Id-less legacy entries sharing the same millisecond
// collapse into one; that collision is accepted.
func messageKey(m models.ChatMessage) string {
	if m.ID != "" {
		return m.ID
	}
	return "t:" + m.Timestamp.UTC().Format(time.RFC3339Nano)
}

// MergeMessages combines the legacy embedded history with the append-only
// stream into one transcript in ascending timestamp order. On identity
// collision the stream entry wins, because read reconciliation only ever
// updates stream rows.
func MergeMessages(legacy, stream []models.ChatMessage) []models.ChatMessage {
	byKey := make(map[string]models.ChatMessage, len(legacy)+len(stream))
	order := make([]string, 0, len(legacy)+len(stream))

	for _, m := range legacy {
		key := messageKey(m)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = m
	}
	for _, m := range stream {
		key := messageKey(m)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = m
	}

	merged := make([]models.ChatMessage, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}
