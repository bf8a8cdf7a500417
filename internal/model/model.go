// Package model содержит доменные сущности сервиса dearlove.
package model

import (
	"math/rand/v2"
	"strconv"
	"time"
)

// OrderStatus описывает статус оплаты заказа, приходящий по каналу уведомлений.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusFailed сервер присылает в нижнем регистре.
	OrderStatusFailed OrderStatus = "failed"
)

// ProductStatus описывает статус записи о продукте на сервере.
type ProductStatus string

const (
	ProductStatusFree    ProductStatus = "FREE"
	ProductStatusPending ProductStatus = "PENDING"
	ProductStatusPaid    ProductStatus = "PAID"
)

// WebsiteStatus описывает статус созданного поздравительного сайта.
type WebsiteStatus string

const (
	WebsiteStatusFree WebsiteStatus = "Free"
	WebsiteStatusPaid WebsiteStatus = "PAID"
)

// Значения по умолчанию для необязательных полей настроек.
const (
	DefaultMusic         = "./music/happybirtday_uia.mp3"
	DefaultCountdown     = 3
	DefaultMatrixText    = "HAPPYBIRTHDAY❤"
	DefaultMatrixColor1  = "#ffb6c1"
	DefaultMatrixColor2  = "#ffc0cb"
	DefaultSequence      = "HAPPY|BIRTHDAY|MY|CUTEE|LITTLE|SWARALI|❤"
	DefaultSequenceColor = "#d39b9b"
)

// Постоянные атрибуты записи о продукте.
const (
	ProductName     = "Birthday Website"
	ProductType     = "Birthday"
	ProductImageURL = "https://cdn.deargift.online/uploads/Screenshot%202025-07-08%20123133.png"
)

// Page описывает одну страницу книги-перевёртыша.
type Page struct {
	Image   string `json:"image"`
	Content string `json:"content"`
}

// Settings описывает конфигурацию поздравительного сайта.
type Settings struct {
	Music         string `json:"music"`
	Countdown     int    `json:"countdown"`
	MatrixText    string `json:"matrixText"`
	MatrixColor1  string `json:"matrixColor1"`
	MatrixColor2  string `json:"matrixColor2"`
	Sequence      string `json:"sequence"`
	SequenceColor string `json:"sequenceColor"`
	Gift          string `json:"gift"`
	EnableBook    bool   `json:"enableBook"`
	EnableHeart   bool   `json:"enableHeart"`
	IsSave        bool   `json:"isSave"`
	Pages         []Page `json:"pages"`
}

// Normalized возвращает копию настроек, в которой все необязательные
// поля заполнены значениями по умолчанию.
func (s Settings) Normalized() Settings {
	out := s

	if out.Music == "" {
		out.Music = DefaultMusic
	}
	if out.Countdown <= 0 {
		out.Countdown = DefaultCountdown
	}
	if out.MatrixText == "" {
		out.MatrixText = DefaultMatrixText
	}
	if out.MatrixColor1 == "" {
		out.MatrixColor1 = DefaultMatrixColor1
	}
	if out.MatrixColor2 == "" {
		out.MatrixColor2 = DefaultMatrixColor2
	}
	if out.Sequence == "" {
		out.Sequence = DefaultSequence
	}
	if out.SequenceColor == "" {
		out.SequenceColor = DefaultSequenceColor
	}
	if out.Pages == nil {
		out.Pages = []Page{}
	}

	return out
}

// Website описывает запись о созданном сайте на сервере.
type Website struct {
	ID       string        `json:"_id"`
	Settings Settings      `json:"settings"`
	Status   WebsiteStatus `json:"status"`
}

// Product описывает запись о продукте, создаваемую вместе с заказом.
type Product struct {
	UID         string        `json:"uid"`
	OrderCode   string        `json:"orderCode"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Price       int64         `json:"price"`
	Images      string        `json:"images"`
	LinkProduct string        `json:"linkproduct"`
	ConfigID    string        `json:"configId"`
	Status      ProductStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// PaymentStatusEvent описывает событие payment_status_update из комнаты заказа.
type PaymentStatusEvent struct {
	OrderCode string      `json:"orderCode"`
	Status    OrderStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	WebsiteID string      `json:"websiteId,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
}

// GenerateOrderCode генерирует код заказа на стороне клиента: ведущая
// ненулевая цифра, восемь младших цифр текущего времени в миллисекундах
// и три случайные цифры. Уникальность не гарантируется, повторный код
// сервер разрешает через isExistingOrder.
func GenerateOrderCode() string {
	first := 1 + rand.IntN(9)

	millis := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if len(millis) > 8 {
		millis = millis[len(millis)-8:]
	}

	suffix := 100 + rand.IntN(900)

	return strconv.Itoa(first) + millis + strconv.Itoa(suffix)
}
