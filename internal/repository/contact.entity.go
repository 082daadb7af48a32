package repository

import (
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
)

type ContactEntity struct {
	ID            string    `db:"id"    gorm:"primaryKey;column:id;type:uuid"`
	Name          string    `db:"name"  gorm:"column:name"`
	Phone         string    `db:"phone" gorm:"column:phone;index"`
	Email         string    `db:"email" gorm:"column:email;index"`
	OptInWhatsApp bool      `db:"opt_in_whatsapp" gorm:"column:opt_in_whatsapp;not null;default:false"`
	OptInSMS      bool      `db:"opt_in_sms"      gorm:"column:opt_in_sms;not null;default:false"`
	OptInEmail    bool      `db:"opt_in_email"    gorm:"column:opt_in_email;not null;default:false"`
	OptInVoice    bool      `db:"opt_in_voice"    gorm:"column:opt_in_voice;not null;default:false"`
	AllowWhatsApp bool      `db:"allow_whatsapp"  gorm:"column:allow_whatsapp;not null;default:false"`
	AllowSMS      bool      `db:"allow_sms"       gorm:"column:allow_sms;not null;default:false"`
	AllowEmail    bool      `db:"allow_email"     gorm:"column:allow_email;not null;default:false"`
	AllowVoice    bool      `db:"allow_voice"     gorm:"column:allow_voice;not null;default:false"`
	CreatedAt     time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ContactEntity) TableName() string {
	return "contacts"
}

func toContactEntity(m *model.Contact) *ContactEntity {
	if m == nil {
		return nil
	}
	return &ContactEntity{
		ID:            m.ID,
		Name:          m.Name,
		Phone:         m.Phone,
		Email:         m.Email,
		OptInWhatsApp: m.OptInWhatsApp,
		OptInSMS:      m.OptInSMS,
		OptInEmail:    m.OptInEmail,
		OptInVoice:    m.OptInVoice,
		AllowWhatsApp: m.AllowWhatsApp,
		AllowSMS:      m.AllowSMS,
		AllowEmail:    m.AllowEmail,
		AllowVoice:    m.AllowVoice,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toContactModel(e *ContactEntity) *model.Contact {
	if e == nil {
		return nil
	}
	return &model.Contact{
		ID:            e.ID,
		Name:          e.Name,
		Phone:         e.Phone,
		Email:         e.Email,
		OptInWhatsApp: e.OptInWhatsApp,
		OptInSMS:      e.OptInSMS,
		OptInEmail:    e.OptInEmail,
		OptInVoice:    e.OptInVoice,
		AllowWhatsApp: e.AllowWhatsApp,
		AllowSMS:      e.AllowSMS,
		AllowEmail:    e.AllowEmail,
		AllowVoice:    e.AllowVoice,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toContactModels(entities []*ContactEntity) []*model.Contact {
	if entities == nil {
		return nil
	}
	models := make([]*model.Contact, len(entities))
	for i, e := range entities {
		models[i] = toContactModel(e)
	}
	return models
}
