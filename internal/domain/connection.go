package domain

// Role separates plain message connections from notification subscribers.
type Role string

const (
	RoleGeneric Role = "generic"
	RoleHost    Role = "host"
)

// Outbound event names pushed to live channels.
const (
	EventNewNotification = "new_notification"
	EventReceiveMessage  = "receive_message"
)
