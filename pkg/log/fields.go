package log

const (
	// Actor
	FieldUserID       = "user_id"
	FieldConnectionID = "connection_id"

	// Messaging
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldEventType = "event_type"
	FieldCategory  = "category"

	// Service
	FieldService  = "service"
	FieldInstance = "instance_id"
)
