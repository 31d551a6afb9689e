package model

const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
