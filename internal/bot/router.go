// Package bot routes Telegram updates to the weather lookup and sends the replies.
package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-bot/internal/observability"
	"github.com/kjstillabower/weather-bot/internal/report"
	"github.com/kjstillabower/weather-bot/internal/validation"
)

// Update kinds, used as the botUpdatesTotal label.
const (
	kindStart    = "start"
	kindCallback = "callback"
	kindText     = "text"
	kindIgnored  = "ignored"
)

// CallbackCommand is the first word of every keyboard button payload.
const CallbackCommand = "weather"

const greetingFormat = "Привет, <b>%s</b>!\nВведи название города или выбери из списка ниже:"

// API is the subset of *tgbotapi.BotAPI the router calls.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// WeatherLookup returns reply text for a city. It never fails; failures are rendered as text.
type WeatherLookup interface {
	GetOrCompute(ctx context.Context, city string) string
}

// Router dispatches updates: /start greets with the city keyboard, button presses edit the
// pressed message into a report, and any other text is treated as a city name.
type Router struct {
	api           API
	weather       WeatherLookup
	keyboard      tgbotapi.InlineKeyboardMarkup
	validateInput bool
	logger        *zap.Logger
}

// NewRouter returns a Router offering cities on the /start keyboard.
func NewRouter(api API, weather WeatherLookup, cities []string, validateInput bool, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		api:           api,
		weather:       weather,
		keyboard:      CityKeyboard(cities),
		validateInput: validateInput,
		logger:        logger,
	}
}

// CallbackData returns the "weather <city>" payload carried by a city button.
func CallbackData(city string) string {
	return CallbackCommand + " " + city
}

// CityKeyboard builds an inline keyboard with one button per row, each carrying "weather <city>".
func CityKeyboard(cities []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(cities))
	for _, city := range cities {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(city, CallbackData(city)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// HandleUpdate handles one update. Errors talking to Telegram are logged and counted, never returned.
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	kind := updateKind(update)
	observability.BotUpdatesTotal.WithLabelValues(kind).Inc()
	if kind == kindIgnored {
		return
	}

	start := time.Now()
	defer func() {
		observability.BotHandlerDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	logger := r.logger.With(
		zap.Int("update_id", update.UpdateID),
		zap.String("correlation_id", uuid.New().String()),
	)
	if chatID, ok := updateChatID(update); ok {
		logger = logger.With(zap.Int64("chat_id", chatID))
	}
	ctx = observability.WithLogger(ctx, logger)

	switch kind {
	case kindStart:
		r.handleStart(ctx, update.Message)
	case kindCallback:
		r.handleCallback(ctx, update.CallbackQuery)
	case kindText:
		r.handleText(ctx, update.Message)
	}
}

func updateKind(update tgbotapi.Update) string {
	if update.CallbackQuery != nil {
		return kindCallback
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return kindIgnored
	}
	if msg.IsCommand() && msg.Command() == "start" {
		return kindStart
	}
	if msg.Text == "" {
		return kindIgnored
	}
	return kindText
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}

func (r *Router) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	firstName := ""
	if msg.From != nil {
		firstName = msg.From.FirstName
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(greetingFormat, html.EscapeString(firstName)))
	reply.ParseMode = tgbotapi.ModeHTML
	reply.ReplyMarkup = r.keyboard
	r.send(ctx, reply)
}

func (r *Router) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	logger := observability.LoggerFromContext(ctx, r.logger)
	r.request(ctx, "answer_callback", tgbotapi.NewCallback(q.ID, ""))

	city, ok := ParseCallbackData(q.Data)
	if !ok {
		logger.Warn("malformed callback payload", zap.String("data", q.Data))
		return
	}

	var edit tgbotapi.EditMessageTextConfig
	switch {
	case q.Message != nil && q.Message.Chat != nil:
		edit = tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, "")
	case q.InlineMessageID != "":
		edit = tgbotapi.EditMessageTextConfig{BaseEdit: tgbotapi.BaseEdit{InlineMessageID: q.InlineMessageID}}
	default:
		logger.Warn("callback without a message to edit", zap.String("city", city))
		return
	}

	logger.Info("weather requested", zap.String("city", city), zap.String("source", "button"))
	edit.Text = r.weather.GetOrCompute(ctx, city)
	r.request(ctx, "edit", edit)
}

// ParseCallbackData extracts the city from a "weather <city>" payload: the second
// whitespace-separated token.
func ParseCallbackData(data string) (string, bool) {
	fields := strings.Fields(data)
	if len(fields) < 2 || fields[0] != CallbackCommand {
		return "", false
	}
	return fields[1], true
}

func (r *Router) handleText(ctx context.Context, msg *tgbotapi.Message) {
	logger := observability.LoggerFromContext(ctx, r.logger)
	city := strings.TrimSpace(msg.Text)
	logger.Info("weather requested", zap.String("city", city), zap.String("source", "text"))

	if r.validateInput {
		valid, err := validation.ValidateCity(city)
		if err != nil {
			logger.Info("rejected city input", zap.String("city", city), zap.Error(err))
			r.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, report.TextInvalidCity))
			return
		}
		city = valid
	}

	r.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, r.weather.GetOrCompute(ctx, city)))
}

func (r *Router) send(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := r.api.Send(c); err != nil {
		observability.BotSendErrorsTotal.WithLabelValues("send").Inc()
		observability.LoggerFromContext(ctx, r.logger).Error("telegram send failed", zap.Error(err))
	}
}

// request is used for calls whose result is not a Message (edits may return true, callback answers always do).
func (r *Router) request(ctx context.Context, method string, c tgbotapi.Chattable) {
	if _, err := r.api.Request(c); err != nil {
		observability.BotSendErrorsTotal.WithLabelValues(method).Inc()
		observability.LoggerFromContext(ctx, r.logger).Error("telegram request failed",
			zap.String("method", method), zap.Error(err))
	}
}
