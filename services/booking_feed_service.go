package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rentlock-http-service/config"
)

// InterfaceBookingFeedService 定义上游预订平台的只读客户端接口
type InterfaceBookingFeedService interface {
	FetchReservations(ctx context.Context, accommodationExternalID string, from, to time.Time) ([]FeedReservation, error)
}

// FeedReservation 上游返回的权威预订数据
type FeedReservation struct {
	ExternalID              string    `json:"id"`
	AccommodationExternalID string    `json:"accommodation_id"`
	GuestName               string    `json:"guest_name"`
	CheckInAt               time.Time `json:"check_in_at"`
	CheckOutAt              time.Time `json:"check_out_at"`
	Status                  string    `json:"status"` // PENDING / CONFIRMED / CANCELLED / NO_SHOW
}

// feedListResponse 上游列表响应
type feedListResponse struct {
	Reservations []FeedReservation `json:"reservations"`
}

// BookingFeedService 通过HTTP访问预订平台的权威数据
type BookingFeedService struct {
	Config *config.Config
	client *http.Client
}

// NewBookingFeedService 创建一个新的预订平台客户端
func NewBookingFeedService(cfg *config.Config) InterfaceBookingFeedService {
	return &BookingFeedService{
		Config: cfg,
		client: &http.Client{Timeout: cfg.BookingFeedTimeout},
	}
}

// FetchReservations 拉取指定房源在时间窗口内的全部预订。
// 只读且可重复调用，对账流程依赖这一点。
func (s *BookingFeedService) FetchReservations(ctx context.Context, accommodationExternalID string, from, to time.Time) ([]FeedReservation, error) {
	endpoint := fmt.Sprintf("%s/v1/accommodations/%s/reservations?%s",
		s.Config.BookingFeedBaseURL,
		url.PathEscape(accommodationExternalID),
		url.Values{
			"from": []string{from.UTC().Format(time.RFC3339)},
			"to":   []string{to.UTC().Format(time.RFC3339)},
		}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.Config.BookingFeedAPIKey != "" {
		req.Header.Set("X-API-Key", s.Config.BookingFeedAPIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching reservations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("booking feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var result feedListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding feed response: %w", err)
	}

	return result.Reservations, nil
}
