package domain

import "time"

// SocialHandles are optional profile links of a delegate.
type SocialHandles struct {
	Twitter string `json:"twitter,omitempty" dynamodbav:"twitter,omitempty"`
	Github  string `json:"github,omitempty" dynamodbav:"github,omitempty"`
	Discord string `json:"discord,omitempty" dynamodbav:"discord,omitempty"`
}

// Delegate is a platform user. Address is the partition key and is stored normalized.
type Delegate struct {
	Address       string        `json:"address" dynamodbav:"address"`
	DisplayName   string        `json:"displayName" dynamodbav:"display_name"`
	DAOName       string        `json:"daoName" dynamodbav:"dao_name"`
	IsDelegate    bool          `json:"isDelegate" dynamodbav:"is_delegate"`
	EmailID       string        `json:"emailId,omitempty" dynamodbav:"email_id"`
	Image         string        `json:"image,omitempty" dynamodbav:"image"`
	Description   string        `json:"description,omitempty" dynamodbav:"description"`
	SocialHandles SocialHandles `json:"socialHandles" dynamodbav:"social_handles"`
	CreatedAt     time.Time     `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time     `json:"updated" dynamodbav:"updated_at"`
}
