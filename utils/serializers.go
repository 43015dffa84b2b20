package utils

import (
	"time"

	"halaqat_go/models"
)

// Compact representations used across APIs
type UserShort struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	CenterID *uint  `json:"center_id,omitempty"`
}

type Source struct {
	Type string `json:"type"`
	ID   *uint  `json:"id,omitempty"`
}

type NotificationDTO struct {
	ID        uint       `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	Source    *Source    `json:"source,omitempty"`
}

func ToUserShort(u models.User) UserShort {
	return UserShort{ID: u.ID, Username: u.Username, Role: string(u.Role), CenterID: u.CenterID}
}

// ToNotificationDTO maps a models.Notification to the compact DTO.
func ToNotificationDTO(n models.Notification) NotificationDTO {
	dto := NotificationDTO{
		ID:        n.ID,
		CreatedAt: n.CreatedAt,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		ReadAt:    n.ReadAt,
	}
	if n.SourceType != "" {
		dto.Source = &Source{Type: n.SourceType, ID: n.SourceID}
	}
	return dto
}

func ToNotificationDTOs(list []models.Notification) []NotificationDTO {
	out := make([]NotificationDTO, 0, len(list))
	for _, n := range list {
		out = append(out, ToNotificationDTO(n))
	}
	return out
}
