package models

import "time"

// RoomInfo is the public view of a live room
type RoomInfo struct {
	Code        string    `json:"code"`
	HostID      string    `json:"hostId"`
	Members     []string  `json:"members,omitempty"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
	InstanceID  string    `json:"instanceId,omitempty"` // Set when the room lives on another instance
}
