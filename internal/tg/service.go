package tg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pvzzle/nonceguard/internal/bus"
	"github.com/pvzzle/nonceguard/internal/races"
	"github.com/pvzzle/nonceguard/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	cbStatus     = "status"
	cbHistory    = "history"
	cbSearch     = "search"
	cbBackToMain = "back_main"

	historyLimit = 10
)

// WatcherStatus is the part of the watcher shown in the status screen.
type WatcherStatus interface {
	Halted() bool
}

type Service struct {
	bot    *tgbot.Bot
	chatID int64

	account common.Address
	network string

	watcher  WatcherStatus
	registry *races.Registry
	notifyCh <-chan bus.Notification

	state *StateStore

	repo storage.Repository
	log  *zap.Logger
}

func NewService(
	b *tgbot.Bot,
	chatID int64,
	account common.Address,
	network string,
	watcher WatcherStatus,
	registry *races.Registry,
	notifyCh <-chan bus.Notification,
	repo storage.Repository,
	log *zap.Logger,
) *Service {
	s := &Service{
		bot:      b,
		chatID:   chatID,
		account:  account,
		network:  network,
		watcher:  watcher,
		registry: registry,
		notifyCh: notifyCh,
		state:    NewStateStore(),
		repo:     repo,
		log:      log.Named("tg"),
	}
	s.registerHandlers()
	return s
}

// OperatorOnly drops every update that does not come from chatID.
func OperatorOnly(chatID int64, log *zap.Logger) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
			id, ok := updateChatID(upd)
			if !ok || id != chatID {
				log.Debug("ignoring update from foreign chat", zap.Int64("chat_id", id))
				return
			}
			next(ctx, b, upd)
		}
	}
}

func updateChatID(upd *models.Update) (int64, bool) {
	switch {
	case upd == nil:
		return 0, false
	case upd.Message != nil:
		return upd.Message.Chat.ID, true
	case upd.CallbackQuery != nil:
		m := upd.CallbackQuery.Message
		if m.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
			if m.InaccessibleMessage == nil {
				return 0, false
			}
			return m.InaccessibleMessage.Chat.ID, true
		}
		if m.Message == nil {
			return 0, false
		}
		return m.Message.Chat.ID, true
	default:
		return 0, false
	}
}

func (s *Service) registerHandlers() {
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, s.onStart)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbStatus, tgbot.MatchTypeExact, s.onCbStatus)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbHistory, tgbot.MatchTypeExact, s.onCbHistory)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbSearch, tgbot.MatchTypeExact, s.onCbSearch)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBackToMain, tgbot.MatchTypeExact, s.onCbBackToMain)

	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onAnyText)
}

// StartNotifyLoop пересылает уведомления вотчера оператору, пока ctx жив.
func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notifyCh:
			_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: s.chatID,
				Text:   n.Text,
			})
			if err != nil {
				s.log.Warn("send notify error", zap.String("kind", n.Kind), zap.Error(err))
			}
		}
	}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Status", CallbackData: cbStatus},
				{Text: "History", CallbackData: cbHistory},
			},
			{
				{Text: "Search race", CallbackData: cbSearch},
			},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Назад", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) onStart(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("Привет! Я защищаю %s от чужих исходящих транзакций.\n\nВыбери действие:", s.account.Hex()),
		ReplyMarkup: mainMenu(),
	})
}

// callbackChat отвечает на callback и возвращает чат, из которого он пришёл.
func (s *Service) callbackChat(ctx context.Context, b *tgbot.Bot, upd *models.Update) (int64, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage || cb.Message.Message == nil {
		return 0, false
	}
	if _, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID}); err != nil {
		s.log.Debug("answer callback error", zap.Error(err))
	}
	return cb.Message.Message.Chat.ID, true
}

func (s *Service) onCbStatus(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	halted := s.watcher != nil && s.watcher.Halted()
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        FormatStatus(s.account, s.network, halted, s.registry.Active()),
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) onCbHistory(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	items, err := s.repo.ListHistory(ctx, historyLimit)
	if err != nil {
		s.log.Warn("list history error", zap.Error(err))
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("Ошибка чтения истории: %v", err),
		})
		return
	}

	text := "История пуста."
	if len(items) > 0 {
		text = FormatHistory(items)
	}
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) onCbSearch(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitTxHash)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "Введи хэш исходной транзакции (0x...):",
	})
}

func (s *Service) onCbBackToMain(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        "Главное меню:",
		ReplyMarkup: mainMenu(),
	})
}

func (s *Service) onAnyText(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	// команды тут не обрабатываем
	if strings.HasPrefix(text, "/") {
		return
	}

	switch s.state.Get(chatID) {
	case StateAwaitTxHash:
		s.state.Set(chatID, StateIdle)
		s.handleSearchRace(ctx, b, chatID, text)

	default:
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Используй /start, чтобы открыть меню.",
		})
	}
}

func (s *Service) handleSearchRace(ctx context.Context, b *tgbot.Bot, chatID int64, hashStr string) {
	h, err := ParseTxHash(hashStr)
	if errors.Is(err, ErrInvalidTxHash) {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Похоже, это не хэш транзакции. Ожидаю 0x + 64 hex символа.",
		})
		return
	}

	items, err := s.repo.RaceHistory(ctx, h.Hex())
	if err != nil {
		s.log.Warn("race history error", zap.Stringer("tx", h), zap.Error(err))
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("Ошибка чтения истории: %v", err),
		})
		return
	}

	text := FormatRaceHistory(h, items)
	// без базы история пуста, но гонка может быть ещё в памяти
	if snap, ok := s.registry.Get(h); ok {
		text += "\n\n" + FormatStatus(s.account, s.network, s.watcher != nil && s.watcher.Halted(), []races.Snapshot{snap})
	}

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: backMenu(),
	})
}
