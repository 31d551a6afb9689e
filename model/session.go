package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// ChatSession is a persisted conversation owned by one principal. The core
// only appends messages; session CRUD lives outside the relay path.
type ChatSession struct {
	Id          string `json:"id" gorm:"primaryKey;size:64"`
	PrincipalId int64  `json:"principal_id" gorm:"index"`
	Title       string `json:"title" gorm:"size:191"`
	Model       string `json:"model" gorm:"size:191"`
	Active      bool   `json:"active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionMessage is one turn of a session transcript. The
// (session_id, request_id, role) unique index makes appends idempotent:
// replaying the same request id writes nothing new.
type SessionMessage struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	SessionId string `json:"session_id" gorm:"size:64;index;uniqueIndex:idx_session_request_role,priority:1"`
	Seq       int64  `json:"seq" gorm:"index"`
	Role      string `json:"role" gorm:"size:16;uniqueIndex:idx_session_request_role,priority:3"`
	// Content is the JSON-encoded message content, preserving block
	// structure for multi-part turns.
	Content    string `json:"content" gorm:"type:text"`
	TokenCount int    `json:"token_count"`
	RequestId  string `json:"request_id" gorm:"size:64;uniqueIndex:idx_session_request_role,priority:2"`

	CreatedAt time.Time `json:"created_at"`
}

// GetSession loads a session and verifies ownership. Sessions belonging to
// another principal are reported as missing, not forbidden, so session ids
// cannot be probed across tenants.
func GetSession(ctx context.Context, sessionId string, principalId int64) (*ChatSession, error) {
	var session ChatSession
	err := DB.WithContext(ctx).
		First(&session, "id = ? AND principal_id = ?", sessionId, principalId).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load session %s", sessionId)
	}
	return &session, nil
}

// GetSessionHistory returns the last `limit` messages in chronological
// order, for pre-flight prompt injection.
func GetSessionHistory(ctx context.Context, sessionId string, limit int) ([]SessionMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var recent []SessionMessage
	err := DB.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("seq DESC").
		Limit(limit).
		Find(&recent).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load history for session %s", sessionId)
	}
	// Reverse into chronological order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// AppendSessionMessages writes the user and assistant turns of one request
// in a single transaction, keyed by (session_id, request_id, role).
// Replays are no-ops: the unique index rejects the duplicate rows and the
// transaction reports success without changing session state.
func AppendSessionMessages(ctx context.Context, sessionId, requestId string, messages []SessionMessage) error {
	if sessionId == "" || requestId == "" {
		return errors.New("session id and request id are required")
	}
	if len(messages) == 0 {
		return nil
	}

	err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&SessionMessage{}).
			Where("session_id = ? AND request_id = ?", sessionId, requestId).
			Count(&existing).Error; err != nil {
			return errors.Wrap(err, "check existing session messages")
		}
		if existing > 0 {
			return nil
		}

		var maxSeq int64
		if err := tx.Model(&SessionMessage{}).
			Where("session_id = ?", sessionId).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return errors.Wrap(err, "read session max seq")
		}

		for i := range messages {
			messages[i].SessionId = sessionId
			messages[i].RequestId = requestId
			messages[i].Seq = maxSeq + int64(i) + 1
		}
		if err := tx.Create(&messages).Error; err != nil {
			return errors.Wrap(err, "insert session messages")
		}

		return errors.Wrap(tx.Model(&ChatSession{}).
			Where("id = ?", sessionId).
			Update("updated_at", time.Now()).Error, "touch session")
	})
	return errors.Wrapf(err, "append messages to session %s", sessionId)
}
