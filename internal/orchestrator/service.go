// Package orchestrator связывает создание сайта, заказ и ожидание оплаты
// в единый сценарий публикации поздравительного сайта.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/dearlove-system/internal/gateway"
	"github.com/mmeshcher/dearlove-system/internal/model"
	"github.com/mmeshcher/dearlove-system/internal/pricing"
	"github.com/mmeshcher/dearlove-system/internal/realtime"
	"github.com/mmeshcher/dearlove-system/internal/validation"
)

// Ошибки сценария публикации.
var (
	ErrValidation         = errors.New("settings validation failed")
	ErrResourceCreation   = errors.New("website creation failed")
	ErrOrderCreation      = errors.New("order creation failed")
	ErrPaymentInitiation  = errors.New("payment initiation failed")
	ErrPaymentCancelled   = errors.New("payment cancelled")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrPaymentTimeout     = errors.New("payment confirmation timed out")
	ErrChannelUnavailable = errors.New("notification channel unavailable")
	ErrNoPendingPayment   = errors.New("no pending payment to resume")
)

// defaultWatchdog — предельное время ожидания подтверждения оплаты.
const defaultWatchdog = 5 * time.Minute

// Gateway описывает операции серверного API, используемые сценарием.
type Gateway interface {
	UploadPageImages(ctx context.Context, pages []model.Page) ([]model.Page, error)
	CreateWebsite(ctx context.Context, settings model.Settings, status model.WebsiteStatus) (string, error)
	CreateProduct(ctx context.Context, product model.Product) error
	ApplyVoucher(ctx context.Context, uid, code, orderCode string) (int, error)
	CreatePayment(ctx context.Context, orderCode string, req gateway.PaymentRequest) (*gateway.PaymentResult, error)
	ShareableURL(websiteID string) string
}

// Channel описывает канал push-уведомлений о статусе оплаты.
type Channel interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	JoinOrder(orderCode string) bool
	LeaveOrder(orderCode string)
	Subscribe(event string, h realtime.Handler) *realtime.Subscription
	Cleanup()
}

// Store описывает хранилище сессионных меток незавершённой оплаты.
type Store interface {
	SetOrder(orderCode string) error
	SetInProgress(v bool) error
	SetWebsiteID(id string) error
	Current() (orderCode string, inProgress bool)
	WebsiteID() string
	Clear() error
	User() (uid, email string)
}

// Уровни пользовательских уведомлений.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notifier доставляет пользователю сообщения о ходе сценария.
type Notifier interface {
	Notify(level, message string)
}

// Options задаёт параметры одного запуска сценария публикации.
type Options struct {
	Free          bool
	PaymentMethod string
	PriceVND      int64
	Tip           int64
	VoucherCode   string
}

// Виды успешного завершения сценария.
const (
	OutcomePaid     = "paid"
	OutcomeRedirect = "redirect"
)

// Outcome описывает результат успешного завершения сценария.
type Outcome struct {
	Kind        string
	WebsiteID   string
	OrderCode   string
	Amount      int64
	ShareURL    string
	CheckoutURL string
}

// Service выполняет сценарий публикации: проверка настроек, создание
// сайта и заказа, инициация платежа и ожидание его подтверждения.
type Service struct {
	gw       Gateway
	channel  Channel
	store    Store
	notifier Notifier
	logger   *zap.Logger

	watchdog time.Duration
}

// Option настраивает сервис при создании.
type Option func(*Service)

// WithWatchdog задаёт предельное время ожидания подтверждения оплаты.
func WithWatchdog(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.watchdog = d
		}
	}
}

// NewService создаёт сервис сценария публикации.
func NewService(gw Gateway, channel Channel, store Store, notifier Notifier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		channel:  channel,
		store:    store,
		notifier: notifier,
		logger:   logger,
		watchdog: defaultWatchdog,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run выполняет сценарий публикации от проверки настроек до результата.
// Для бесплатного сайта и нулевой суммы сценарий завершается сразу, для
// PayPal возвращается ссылка на оплату без ожидания подтверждения, для
// PayOS сервис ждёт событие статуса по каналу уведомлений.
func (s *Service) Run(ctx context.Context, settings model.Settings, opts Options) (*Outcome, error) {
	if err := validation.ValidatePages(settings.EnableBook, len(settings.Pages)); err != nil {
		s.notifier.Notify(LevelError, err.Error())
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	settings = settings.Normalized()

	if settings.EnableBook && len(settings.Pages) > 0 {
		pages, err := s.gw.UploadPageImages(ctx, settings.Pages)
		if err != nil {
			s.notifier.Notify(LevelError, "Failed to upload page images. Please try again.")
			return nil, fmt.Errorf("%w: %s", ErrResourceCreation, err)
		}
		settings.Pages = pages
	}

	status := model.WebsiteStatusPaid
	if opts.Free {
		status = model.WebsiteStatusFree
	}

	websiteID, err := s.gw.CreateWebsite(ctx, settings, status)
	if err != nil {
		s.notifier.Notify(LevelError, userMessage(err, "Failed to create website. Please try again."))
		return nil, fmt.Errorf("%w: %s", ErrResourceCreation, err)
	}
	if err := s.store.SetWebsiteID(websiteID); err != nil {
		s.logger.Warn("save website id failed", zap.Error(err))
	}

	orderCode := model.GenerateOrderCode()
	uid, email := s.store.User()

	amount := pricing.Quote(opts.PaymentMethod, opts.PriceVND, opts.Tip)
	if opts.Free {
		amount = 0
	}

	productStatus := model.ProductStatusPending
	if amount == 0 {
		productStatus = model.ProductStatusFree
	}

	product := model.Product{
		UID:         uid,
		OrderCode:   orderCode,
		Name:        model.ProductName,
		Type:        model.ProductType,
		Price:       amount,
		Images:      model.ProductImageURL,
		LinkProduct: s.gw.ShareableURL(websiteID),
		ConfigID:    websiteID,
		Status:      productStatus,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.gw.CreateProduct(ctx, product); err != nil {
		// Сайт уже создан и останется без заказа, фиксируем для разбора.
		s.logger.Error("order creation failed, website left orphaned",
			zap.String("website", websiteID), zap.Error(err))
		s.notifier.Notify(LevelError, userMessage(err, "Failed to create order. Please try again."))
		return nil, fmt.Errorf("%w: %s", ErrOrderCreation, err)
	}

	if opts.VoucherCode != "" {
		percent, err := s.gw.ApplyVoucher(ctx, uid, opts.VoucherCode, orderCode)
		if err != nil {
			// Неудачный ваучер не прерывает оплату.
			s.logger.Warn("voucher application failed",
				zap.String("code", opts.VoucherCode), zap.Error(err))
			s.notifier.Notify(LevelWarning, userMessage(err, "Voucher could not be applied."))
		} else {
			amount = pricing.ApplyDiscount(amount, percent)
		}
	}

	if amount == 0 {
		s.notifier.Notify(LevelInfo, "Your website is ready!")
		return &Outcome{
			Kind:      OutcomePaid,
			WebsiteID: websiteID,
			OrderCode: orderCode,
			Amount:    0,
			ShareURL:  s.gw.ShareableURL(websiteID),
		}, nil
	}

	if err := s.store.SetOrder(orderCode); err != nil {
		s.logger.Warn("save order code failed", zap.Error(err))
	}

	result, err := s.gw.CreatePayment(ctx, orderCode, gateway.PaymentRequest{
		Amount:        amount,
		Description:   "Birthday Website",
		UID:           uid,
		CustomerEmail: email,
		PaymentMethod: opts.PaymentMethod,
	})
	if err != nil {
		s.notifier.Notify(LevelError, userMessage(err, "Failed to start payment. Please try again."))
		return nil, fmt.Errorf("%w: %s", ErrPaymentInitiation, err)
	}

	if result.IsExistingOrder && result.OrderCode != "" {
		// Сервер вернул код уже открытого заказа, дальше отслеживаем его.
		orderCode = result.OrderCode
		if err := s.store.SetOrder(orderCode); err != nil {
			s.logger.Warn("save order code failed", zap.Error(err))
		}
	}

	if result.CheckoutURL == "" {
		s.notifier.Notify(LevelError, "Payment provider returned no checkout link.")
		return nil, fmt.Errorf("%w: empty checkout url", ErrPaymentInitiation)
	}

	if err := s.store.SetInProgress(true); err != nil {
		s.logger.Warn("save payment marker failed", zap.Error(err))
	}

	if opts.PaymentMethod == pricing.MethodPayPal {
		// Подтверждение PayPal приходит вне канала уведомлений.
		s.channel.Cleanup()
		return &Outcome{
			Kind:        OutcomeRedirect,
			WebsiteID:   websiteID,
			OrderCode:   orderCode,
			Amount:      amount,
			ShareURL:    s.gw.ShareableURL(websiteID),
			CheckoutURL: result.CheckoutURL,
		}, nil
	}

	if err := s.channel.Connect(ctx); err != nil || !s.channel.IsConnected() {
		s.notifier.Notify(LevelError, "Notification channel is unavailable. Please try again.")
		s.clearSession(orderCode)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, err)
		}
		return nil, ErrChannelUnavailable
	}

	s.notifier.Notify(LevelInfo, "Waiting for payment confirmation...")

	event, err := s.awaitStatus(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Kind:        OutcomePaid,
		WebsiteID:   websiteID,
		OrderCode:   orderCode,
		Amount:      amount,
		ShareURL:    s.gw.ShareableURL(websiteID),
		CheckoutURL: result.CheckoutURL,
	}, s.finishFromEvent(event)
}

// Resume продолжает ожидание подтверждения оплаты по сохранённым меткам
// после перезапуска приложения.
func (s *Service) Resume(ctx context.Context) (*Outcome, error) {
	orderCode, inProgress := s.store.Current()
	if orderCode == "" || !inProgress {
		return nil, ErrNoPendingPayment
	}

	websiteID := s.store.WebsiteID()

	if err := s.channel.Connect(ctx); err != nil || !s.channel.IsConnected() {
		s.notifier.Notify(LevelError, "Notification channel is unavailable. Please try again.")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, err)
		}
		return nil, ErrChannelUnavailable
	}

	s.notifier.Notify(LevelInfo, "Resuming payment confirmation...")

	event, err := s.awaitStatus(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Kind:      OutcomePaid,
		WebsiteID: websiteID,
		OrderCode: orderCode,
		Amount:    event.Amount,
	}
	if websiteID == "" {
		outcome.WebsiteID = event.WebsiteID
	}
	if outcome.WebsiteID != "" {
		outcome.ShareURL = s.gw.ShareableURL(outcome.WebsiteID)
	}

	return outcome, s.finishFromEvent(event)
}

// awaitStatus подписывается на события статуса, присоединяется к комнате
// заказа и ждёт первое событие либо срабатывание сторожевого таймера.
// Подписка оформляется до входа в комнату, чтобы событие, отправленное
// сразу после входа, не потерялось. На любом исходе сессионные метки
// очищаются, а комната покидается.
func (s *Service) awaitStatus(ctx context.Context, orderCode string) (*model.PaymentStatusEvent, error) {
	resultCh := make(chan model.PaymentStatusEvent, 1)
	var once sync.Once

	sub := s.channel.Subscribe(realtime.EventPaymentStatus, func(data json.RawMessage) {
		var ev model.PaymentStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("malformed payment status event", zap.Error(err))
			return
		}
		if ev.OrderCode != orderCode {
			// Событие чужого заказа, комнаты изолированы по коду.
			return
		}
		once.Do(func() {
			resultCh <- ev
		})
	})
	defer sub.Cancel()

	if !s.channel.JoinOrder(orderCode) {
		s.clearSession(orderCode)
		return nil, fmt.Errorf("%w: join order room failed", ErrChannelUnavailable)
	}

	watchdog := time.NewTimer(s.watchdog)
	defer watchdog.Stop()

	defer s.clearSession(orderCode)

	select {
	case ev := <-resultCh:
		return &ev, nil
	case <-watchdog.C:
		s.notifier.Notify(LevelError, "Payment confirmation timed out. Please contact support if you were charged.")
		return nil, ErrPaymentTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finishFromEvent превращает событие статуса в результат сценария.
func (s *Service) finishFromEvent(ev *model.PaymentStatusEvent) error {
	switch ev.Status {
	case model.OrderStatusPaid:
		s.notifier.Notify(LevelInfo, "Payment confirmed. Your website is ready!")
		return nil
	case model.OrderStatusCancelled:
		s.notifier.Notify(LevelWarning, notifyText(ev.Message, "Payment was cancelled."))
		return ErrPaymentCancelled
	case model.OrderStatusFailed:
		s.notifier.Notify(LevelError, notifyText(ev.Message, "Payment failed. Please try again."))
		return ErrPaymentFailed
	default:
		s.logger.Warn("unexpected payment status", zap.String("status", string(ev.Status)))
		s.notifier.Notify(LevelError, "Payment failed. Please try again.")
		return ErrPaymentFailed
	}
}

// clearSession очищает метки незавершённой оплаты и покидает комнату заказа.
func (s *Service) clearSession(orderCode string) {
	if err := s.store.Clear(); err != nil {
		s.logger.Warn("clear session markers failed", zap.Error(err))
	}
	s.channel.LeaveOrder(orderCode)
}

// userMessage возвращает текст ошибки сервера дословно, если он есть,
// иначе запасной текст.
func userMessage(err error, fallback string) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallback
}

func notifyText(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
