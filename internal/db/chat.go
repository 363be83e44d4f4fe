package db

import "time"

// ChatMessage 是聊天室中的一条消息。
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;size:255" json:"id"`
	AuthorID  string    `gorm:"size:255;not null;index" json:"authorId"`
	Author    User      `gorm:"foreignKey:AuthorID" json:"-"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}
