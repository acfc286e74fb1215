package models

import "time"

// TelephonyAccountType identifies how a user's Twilio account is owned.
const (
	// AccountTypeSubaccount marks a subaccount created under the master account.
	AccountTypeSubaccount = "subaccount"
	// AccountTypeExternal marks a customer-owned Twilio account.
	AccountTypeExternal = "external"
)

// User represents a tenant account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username     string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email        string `gorm:"type:text;not null;uniqueIndex"` // Email address.
	PasswordHash string `gorm:"type:text;not null"`             // Bcrypt password hash.
	FirstName    string `gorm:"type:text"`                      // Given name.
	LastName     string `gorm:"type:text"`                      // Family name.
	PhoneNumber  string `gorm:"type:varchar(20)"`               // Contact phone number.

	TwilioAccountSID    string `gorm:"column:twilio_account_sid;type:varchar(64)"` // Twilio account SID.
	TwilioAPIKeySID     string `gorm:"column:twilio_api_key_sid;type:varchar(64)"` // Twilio API key SID.
	AccountType         string `gorm:"column:twilio_account_type;type:varchar(20);default:subaccount"` // subaccount or external.
	TwilioParentAccount bool   `gorm:"not null;default:true"`                    // Whether the account lives under the master account.
	TwilioAuthToken     string `gorm:"column:twilio_auth_token_enc;type:text"`   // Fernet-encrypted auth token.
	TwilioAPIKeySecret  string `gorm:"column:twilio_api_secret_enc;type:text"`   // Fernet-encrypted API key secret.
	StripeCustomerID    string `gorm:"type:varchar(100)"`                        // Stripe customer ID.

	IsActive  bool       `gorm:"not null;default:true"`  // Whether the user can sign in.
	IsAdmin   bool       `gorm:"not null;default:false"` // Administrative access flag.
	LastLogin *time.Time // Last successful login.

	Profiles      []Profile      `gorm:"foreignKey:UserID"` // Owned SMS profiles.
	Subscriptions []Subscription `gorm:"foreignKey:UserID"` // Billing subscriptions.
	APIKeys       []APIKey       `gorm:"foreignKey:UserID"` // Issued API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasTwilioAccount reports whether telephony credentials are configured.
func (u *User) HasTwilioAccount() bool {
	return u != nil && u.TwilioAccountSID != ""
}
