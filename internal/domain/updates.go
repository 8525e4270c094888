package domain

// ChatUpdate enumerates the mutable chat fields. Nil leaves a field as is.
type ChatUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ChatUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.AvatarURL == nil
}

// MessageUpdate enumerates the mutable message fields.
type MessageUpdate struct {
	Content string `json:"content"`
}
