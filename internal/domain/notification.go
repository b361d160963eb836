package domain

// NotificationType classifies a stored notification.
type NotificationType string

const (
	NotificationProposalVote NotificationType = "proposalVote"
	NotificationSessionEvent NotificationType = "sessionEvent"
	NotificationAttestation  NotificationType = "attestation"
)

// Notification is the durable record pushed to or mailed to a receiver.
// CreatedAt is unix milliseconds so the receiver GSI sorts numerically.
type Notification struct {
	NotificationID  string                 `json:"id" dynamodbav:"notification_id"`
	ReceiverAddress string                 `json:"receiver_address" dynamodbav:"receiver_address"`
	Content         string                 `json:"content" dynamodbav:"content"`
	CreatedAt       int64                  `json:"createdAt" dynamodbav:"created_at"`
	ReadStatus      bool                   `json:"read_status" dynamodbav:"read_status"`
	Name            string                 `json:"notification_name" dynamodbav:"notification_name"`
	Title           string                 `json:"notification_title" dynamodbav:"notification_title"`
	Type            NotificationType       `json:"notification_type" dynamodbav:"notification_type"`
	AdditionalData  map[string]interface{} `json:"additionalData,omitempty" dynamodbav:"additional_data,omitempty"`
}

// EmailMessage is the payload handed to the email sender.
type EmailMessage struct {
	To           string            `json:"to"`
	Name         string            `json:"name,omitempty"`
	Subject      string            `json:"subject"`
	Template     string            `json:"template"`
	TemplateData map[string]string `json:"template_data"`
}
