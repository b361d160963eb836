package dynamo

// DynamoDB attribute names used in keys, indexes and update expressions.
const (
	fieldNotificationID  = "notification_id"
	fieldReceiverAddress = "receiver_address"
	fieldCreatedAt       = "created_at"
	fieldReadStatus      = "read_status"
	fieldAddress         = "address"

	indexReceiverCreatedAt = "receiver_address-created_at-index"
)
