package service

import (
	"context"
	"fmt"
	"strings"

	"duotime/contracts/jobs"
	"duotime/internal/model"
	"duotime/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const loveNotePreviewLen = 100

type LoveNoteService struct {
	notes    *repository.LoveNoteRepository
	users    *repository.UserRepository
	notifier *Notifier
	logger   *zap.Logger
}

func NewLoveNoteService(
	notes *repository.LoveNoteRepository,
	users *repository.UserRepository,
	notifier *Notifier,
	logger *zap.Logger,
) *LoveNoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoveNoteService{notes: notes, users: users, notifier: notifier, logger: logger}
}

// Send stores a note for the sender's partner and queues a LOVE_NOTE
// notification for them. The note is stored even if queueing fails.
func (s *LoveNoteService) Send(ctx context.Context, senderID, message string) (*model.LoveNote, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	sender, err := s.users.FindByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender.PartnerID == nil {
		return nil, fmt.Errorf("%w: no linked partner", ErrInvalidTarget)
	}

	note := &model.LoveNote{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: *sender.PartnerID,
		Message:    message,
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("create love note: %w", err)
	}

	title := "Love Note"
	if sender.Name != "" {
		title = fmt.Sprintf("Love Note from %s", sender.Name)
	}
	_, err = s.notifier.Notify(ctx, jobs.NotificationJob{
		Kind:            jobs.KindLoveNote,
		Title:           title,
		Body:            preview(message, loveNotePreviewLen),
		RecipientUserID: note.ReceiverID,
		Metadata: map[string]any{
			"love_note_id": note.ID,
			"sender_id":    senderID,
		},
	})
	if err != nil {
		s.logger.Error("Failed to queue love note notification",
			zap.String("love_note_id", note.ID),
			zap.String("receiver_id", note.ReceiverID),
			zap.Error(err),
		)
	}
	return note, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
