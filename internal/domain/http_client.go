package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient 调用 ERP REST 接口的领域服务客户端
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// HTTPOption 客户端选项
type HTTPOption func(*HTTPClient)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithBackoff 设置首次重试等待时间
func WithBackoff(d time.Duration) HTTPOption {
	return func(h *HTTPClient) { h.backoff = d }
}

// NewHTTPClient 创建 HTTP 领域服务客户端
func NewHTTPClient(baseURL, token string, maxRetries int, opts ...HTTPOption) *HTTPClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	h := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type referenceResponse struct {
	ID string `json:"id"`
}

// CreatePurchaseOrder 创建采购单
func (h *HTTPClient) CreatePurchaseOrder(ctx context.Context, key string, po *PurchaseOrder) (string, error) {
	return h.post(ctx, key, "/purchase-orders", po)
}

// CreateRFQ 创建询价单
func (h *HTTPClient) CreateRFQ(ctx context.Context, key string, rfq *RFQ) (string, error) {
	return h.post(ctx, key, "/rfqs", rfq)
}

// InviteVendor 邀请供应商报价
func (h *HTTPClient) InviteVendor(ctx context.Context, key string, rfqID string, vendorID int64) (string, error) {
	return h.post(ctx, key, fmt.Sprintf("/rfqs/%s/invitations", rfqID), map[string]int64{"vendor_id": vendorID})
}

// SendEmail 发送邮件
func (h *HTTPClient) SendEmail(ctx context.Context, key string, msg *EmailMessage) (string, error) {
	return h.post(ctx, key, "/emails", msg)
}

// MarkOnOrder 标记物料已下单
func (h *HTTPClient) MarkOnOrder(ctx context.Context, key string, materialID int64, purchaseOrderID string) (string, error) {
	return h.post(ctx, key, fmt.Sprintf("/materials/%d/on-order", materialID), map[string]string{"purchase_order_id": purchaseOrderID})
}

// post 发送请求,5xx 与网络错误按指数退避重试
func (h *HTTPClient) post(ctx context.Context, key, path string, body interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := h.backoff
	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}

		ref, err := h.do(ctx, key, path, data)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (h *HTTPClient) do(ctx context.Context, key, path string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &Error{Code: "UNAVAILABLE", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Code: "UNAVAILABLE", Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		de := &Error{}
		if json.Unmarshal(raw, de) != nil || de.Code == "" {
			de.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
			de.Message = strings.TrimSpace(string(raw))
		}
		de.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return "", de
	}

	var ref referenceResponse
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == "" {
		return "", &Error{Code: "BAD_RESPONSE", Message: "response carries no id"}
	}
	return ref.ID, nil
}
