package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

type sqlChatStore struct {
	db      *sql.DB
	dialect dialect
}

const chatColumns = `c.id, c.participant_a, c.participant_b, c.type, c.status, c.is_blocked, c.blocked_by, d.user_id`

func (s *sqlChatStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("chat is required")
	}
	if len(chat.Participants) != 2 {
		return fmt.Errorf("chat requires two participants, got %d", len(chat.Participants))
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO chats (id, participant_a, participant_b, type, status, is_blocked, blocked_by, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`),
		chat.ID,
		chat.Participants[0],
		chat.Participants[1],
		string(chat.Type),
		string(chat.Status),
		chat.IsBlocked,
		chat.BlockedBy,
		time.Now().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

func (s *sqlChatStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	chats, err := s.query(ctx, "get chat",
		`SELECT `+chatColumns+` FROM chats c LEFT JOIN chat_deletions d ON d.chat_id = c.id
		 WHERE c.id = $1 ORDER BY d.user_id`, id)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, ErrNotFound
	}
	return chats[0], nil
}

func (s *sqlChatStore) ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error) {
	return s.query(ctx, "list chats",
		`SELECT `+chatColumns+` FROM chats c LEFT JOIN chat_deletions d ON d.chat_id = c.id
		 WHERE c.participant_a = $1 OR c.participant_b = $2 ORDER BY c.id, d.user_id`, userID, userID)
}

func (s *sqlChatStore) FindChatBetween(ctx context.Context, userA, userB string) (*models.Chat, error) {
	chats, err := s.query(ctx, "find chat",
		`SELECT `+chatColumns+` FROM chats c LEFT JOIN chat_deletions d ON d.chat_id = c.id
		 WHERE (c.participant_a = $1 AND c.participant_b = $2) OR (c.participant_a = $3 AND c.participant_b = $4)
		 ORDER BY c.id, d.user_id`, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, ErrNotFound
	}
	return chats[0], nil
}

// query folds the chat/deletion join back into one record per chat, keeping
// row order.
func (s *sqlChatStore) query(ctx context.Context, op, query string, args ...any) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	chats := []*models.Chat{}
	byID := map[string]*models.Chat{}
	for rows.Next() {
		var (
			chat             models.Chat
			partA, partB     string
			chatType, status string
			deletedBy        sql.NullString
		)
		if err := rows.Scan(&chat.ID, &partA, &partB, &chatType, &status, &chat.IsBlocked, &chat.BlockedBy, &deletedBy); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		existing, ok := byID[chat.ID]
		if !ok {
			chat.Participants = []string{partA, partB}
			chat.Type = models.ChatType(chatType)
			chat.Status = models.ChatStatus(status)
			chat.DeletedBy = []string{}
			existing = &chat
			byID[chat.ID] = existing
			chats = append(chats, existing)
		}
		if deletedBy.Valid && deletedBy.String != "" {
			existing.DeletedBy = append(existing.DeletedBy, deletedBy.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return chats, nil
}

func (s *sqlChatStore) SetBlocked(ctx context.Context, id string, blocked bool, blockedBy string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE chats SET is_blocked = $1, blocked_by = $2 WHERE id = $3`), blocked, blockedBy, id)
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	return expectAffected(result, "set blocked")
}

func (s *sqlChatStore) AddDeletedBy(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add deleted by: %w", err)
	}
	var exists int
	if err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM chats WHERE id = $1`), id).Scan(&exists); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("add deleted by: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO chat_deletions (chat_id, user_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`), id, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("add deleted by: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add deleted by: %w", err)
	}
	return nil
}

func (s *sqlChatStore) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat: %w", err)
	}
	for _, stmt := range []string{
		`DELETE FROM messages WHERE chat_id = $1`,
		`DELETE FROM chat_deletions WHERE chat_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(stmt), id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	result, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM chats WHERE id = $1`), id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := expectAffected(result, "delete chat"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

type sqlMessageStore struct {
	db      *sql.DB
	dialect dialect
}

const messageColumns = `id, chat_id, sender, type, text, attach, file_id, status, forwarded, deleted, sent_at`

func (s *sqlMessageStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`),
		msg.ID,
		msg.ChatID,
		msg.Sender,
		string(msg.Type),
		msg.Text,
		msg.Attach,
		msg.FileID,
		string(msg.Status),
		msg.Forwarded,
		msg.Deleted,
		msg.Time.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *sqlMessageStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`), id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg          models.Message
		msgType      string
		status       string
		sentAtMillis int64
	)
	if err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.Sender,
		&msgType,
		&msg.Text,
		&msg.Attach,
		&msg.FileID,
		&status,
		&msg.Forwarded,
		&msg.Deleted,
		&sentAtMillis,
	); err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(msgType)
	msg.Status = models.MessageStatus(status)
	msg.Time = time.UnixMilli(sentAtMillis)
	return &msg, nil
}

func (s *sqlMessageStore) UpdateStatusText(ctx context.Context, id string, status models.MessageStatus, text string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE messages SET status = CASE WHEN status = $4 THEN status ELSE $1 END, text = $2 WHERE id = $3`),
		string(status), text, id, string(models.StatusRead))
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return expectAffected(result, "update message status")
}

func (s *sqlMessageStore) SetAttachment(ctx context.Context, id, attach, fileID string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE messages SET attach = $1, file_id = $2 WHERE id = $3`), attach, fileID, id)
	if err != nil {
		return fmt.Errorf("set attachment: %w", err)
	}
	return expectAffected(result, "set attachment")
}

func (s *sqlMessageStore) MarkRead(ctx context.Context, chatID, sender string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE messages SET status = $1 WHERE chat_id = $2 AND sender = $3 AND status <> $4`),
		string(models.StatusRead), chatID, sender, string(models.StatusRead))
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *sqlMessageStore) MarkUnread(ctx context.Context, chatID, sender string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE messages SET status = $1 WHERE chat_id = $2 AND sender = $3 AND status = $4`),
		string(models.StatusUnread), chatID, sender, string(models.StatusSent))
	if err != nil {
		return 0, fmt.Errorf("mark unread: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *sqlMessageStore) ListBySender(ctx context.Context, chatID, sender string, ids []string) ([]*models.Message, error) {
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, chatID, sender)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 AND sender = $2 AND id IN (`+placeholders(3, len(ids))+`)
		 ORDER BY sent_at`), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *sqlMessageStore) MarkDeleted(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE messages SET type = $1, text = $2, attach = '', file_id = '', deleted = $3 WHERE id = $4`),
		string(models.MessageDeleted), models.DeletedText, true, id)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	return expectAffected(result, "mark message deleted")
}

func (s *sqlMessageStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM messages WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectAffected(result, "delete message")
}

func (s *sqlMessageStore) Summarize(ctx context.Context, chatID, userID string) (models.MessageSummary, error) {
	var (
		lastAt sql.NullInt64
		unread sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT MAX(sent_at), SUM(CASE WHEN sender <> $1 AND status <> $2 THEN 1 ELSE 0 END)
		 FROM messages WHERE chat_id = $3`),
		userID, string(models.StatusRead), chatID).Scan(&lastAt, &unread)
	if err != nil {
		return models.MessageSummary{}, fmt.Errorf("summarize chat: %w", err)
	}
	var summary models.MessageSummary
	if lastAt.Valid {
		summary.LastMessageAt = time.UnixMilli(lastAt.Int64)
	}
	summary.UnreadCount = int(unread.Int64)
	return summary, nil
}

type sqlUserStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlUserStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var (
		user    models.UserProfile
		profile sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, username, email, profile FROM users WHERE id = $1`), id).
		Scan(&user.ID, &user.Username, &user.Email, &profile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if profile.Valid {
		user.Profile = &profile.String
	}
	return &user, nil
}

func expectAffected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
