package model

import "time"

// Contact is the messaging directory entry a recipient resolves to.
// Per-channel opt-in records consent; the allow-list is an independent
// outbound gate, both must be true before a send is attempted.
type Contact struct {
	ID            string    `json:"id"    gorm:"primaryKey;column:id;type:uuid"`
	Name          string    `json:"name"  gorm:"column:name"`
	Phone         string    `json:"phone" gorm:"column:phone;index"`
	Email         string    `json:"email" gorm:"column:email;index"`
	OptInWhatsApp bool      `json:"opt_in_whatsapp" gorm:"column:opt_in_whatsapp;not null;default:false"`
	OptInSMS      bool      `json:"opt_in_sms"      gorm:"column:opt_in_sms;not null;default:false"`
	OptInEmail    bool      `json:"opt_in_email"    gorm:"column:opt_in_email;not null;default:false"`
	OptInVoice    bool      `json:"opt_in_voice"    gorm:"column:opt_in_voice;not null;default:false"`
	AllowWhatsApp bool      `json:"allow_whatsapp"  gorm:"column:allow_whatsapp;not null;default:false"`
	AllowSMS      bool      `json:"allow_sms"       gorm:"column:allow_sms;not null;default:false"`
	AllowEmail    bool      `json:"allow_email"     gorm:"column:allow_email;not null;default:false"`
	AllowVoice    bool      `json:"allow_voice"     gorm:"column:allow_voice;not null;default:false"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Contact) TableName() string { return "contacts" }

func (c *Contact) OptedIn(ch Channel) bool {
	switch ch {
	case ChannelWhatsApp:
		return c.OptInWhatsApp
	case ChannelSMS:
		return c.OptInSMS
	case ChannelEmail:
		return c.OptInEmail
	case ChannelVoice:
		return c.OptInVoice
	}
	return false
}

func (c *Contact) Allowlisted(ch Channel) bool {
	switch ch {
	case ChannelWhatsApp:
		return c.AllowWhatsApp
	case ChannelSMS:
		return c.AllowSMS
	case ChannelEmail:
		return c.AllowEmail
	case ChannelVoice:
		return c.AllowVoice
	}
	return false
}

// Address returns the channel-appropriate destination.
func (c *Contact) Address(ch Channel) string {
	if ch == ChannelEmail {
		return c.Email
	}
	return c.Phone
}

// ContactFilter controls contact listing for the admin surface.
type ContactFilter struct {
	Search *string // matches name, phone or email
	Limit  int
	Offset int
}
