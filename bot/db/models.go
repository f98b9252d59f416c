package db

import (
	"github.com/kanaridev/KanariBot-Go/bot"
	"gorm.io/gorm"
)

// GuardEventModel mirrors the guard_events schema.
type GuardEventModel struct {
	gorm.Model
	Cog          string `gorm:"not null;index"`
	Kind         string `gorm:"not null;default:''"`
	GuildID      int64  `gorm:"index"`
	ChannelID    int64  `gorm:"index"`
	AuthorID     int64
	MessageID    int64
	Detail       string
	EvidencePath string
}

func (GuardEventModel) TableName() string {
	return "guard_events"
}

// CounterModel stores aggregated bot statistics.
type CounterModel struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex;not null"`
	Value int64
}

func (CounterModel) TableName() string {
	return "counters"
}

func toInternal(model GuardEventModel) *bot.GuardEvent {
	return &bot.GuardEvent{
		ID:           model.ID,
		CreatedAt:    model.CreatedAt,
		Cog:          model.Cog,
		Kind:         model.Kind,
		GuildID:      model.GuildID,
		ChannelID:    model.ChannelID,
		AuthorID:     model.AuthorID,
		MessageID:    model.MessageID,
		Detail:       model.Detail,
		EvidencePath: model.EvidencePath,
	}
}

func toModel(event *bot.GuardEvent) *GuardEventModel {
	if event == nil {
		return &GuardEventModel{}
	}

	model := &GuardEventModel{
		Cog:          event.Cog,
		Kind:         event.Kind,
		GuildID:      event.GuildID,
		ChannelID:    event.ChannelID,
		AuthorID:     event.AuthorID,
		MessageID:    event.MessageID,
		Detail:       event.Detail,
		EvidencePath: event.EvidencePath,
	}

	if event.ID != 0 {
		model.ID = event.ID
	}
	if !event.CreatedAt.IsZero() {
		model.CreatedAt = event.CreatedAt
	}

	return model
}
