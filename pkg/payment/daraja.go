package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	TransactionTypePaybill = "CustomerPayBillOnline"
	TransactionTypeTill    = "CustomerBuyGoodsOnline"

	maxAccountReference = 12
	maxTransactionDesc  = 13
	maxResponseBody     = 1 << 20
)

// DarajaConfig carries everything the client needs; nothing is read from globals.
type DarajaConfig struct {
	BaseURL         string // https://sandbox.safaricom.co.ke
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	PartyB          string // till number for buy-goods; defaults to ShortCode
	TransactionType string
	CallbackURL     string
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	RequestTimeout  time.Duration
}

// DarajaClient implements Provider against Safaricom's Daraja STK push API.
type DarajaClient struct {
	cfg    DarajaConfig
	client *http.Client
	tokMu  sync.Mutex
	token  *oauth2.Token
	log    *zap.Logger
	now    func() time.Time
}

type DarajaOption func(*DarajaClient)

func WithHTTPClient(c *http.Client) DarajaOption {
	return func(d *DarajaClient) { d.client = c }
}

func WithClock(now func() time.Time) DarajaOption {
	return func(d *DarajaClient) { d.now = now }
}

func NewDarajaClient(cfg DarajaConfig, log *zap.Logger, opts ...DarajaOption) *DarajaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TransactionType == "" {
		cfg.TransactionType = TransactionTypePaybill
	}
	if cfg.PartyB == "" {
		cfg.PartyB = cfg.ShortCode
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MinAmount.IsZero() {
		cfg.MinAmount = decimal.NewFromInt(1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &DarajaClient{
		cfg:    cfg,
		client: &http.Client{},
		log:    log.Named("daraja"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type darajaErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type darajaTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// darajaTokenSource fetches one client-credentials token under the context of
// the call that needs it.
type darajaTokenSource struct {
	ctx context.Context
	d   *DarajaClient
}

// accessToken returns the cached token, fetching a new one under ctx once it
// is close to expiry. Concurrent callers share a single fetch.
func (d *DarajaClient) accessToken(ctx context.Context) (*oauth2.Token, error) {
	d.tokMu.Lock()
	defer d.tokMu.Unlock()
	tok, err := oauth2.ReuseTokenSource(d.token, &darajaTokenSource{ctx: ctx, d: d}).Token()
	if err != nil {
		return nil, err
	}
	d.token = tok
	return tok, nil
}

func (s *darajaTokenSource) Token() (*oauth2.Token, error) {
	d := s.d
	ctx, cancel := context.WithTimeout(s.ctx, d.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(d.cfg.ConsumerKey, d.cfg.ConsumerSecret)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &ProviderUnavailableError{Op: "auth", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusOK {
		if rej := parseRejection("auth", body); rej != nil {
			return nil, rej
		}
		return nil, &ProviderUnavailableError{Op: "auth", StatusCode: resp.StatusCode}
	}
	var out darajaTokenResp
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return nil, &ProviderUnavailableError{Op: "auth", Err: fmt.Errorf("unexpected token response")}
	}
	ttl, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	return &oauth2.Token{
		AccessToken: out.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(ttl)*time.Second - time.Minute),
	}, nil
}

// credentials builds the per-request password and timestamp.
func (d *DarajaClient) credentials() (password, timestamp string) {
	timestamp = d.now().In(eat).Format(darajaTimeLayout)
	password = base64.StdEncoding.EncodeToString([]byte(d.cfg.ShortCode + d.cfg.PassKey + timestamp))
	return password, timestamp
}

type stkPushReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResp struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate validates the payer and amount, then sends the STK push prompt.
func (d *DarajaClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	phone, err := NormalizePhone(req.PayerContact)
	if err != nil {
		return nil, err
	}
	if err := ValidateAmount(req.Amount, d.cfg.MinAmount, d.cfg.MaxAmount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.BookingReference) == "" {
		return nil, &ValidationError{Field: "booking_reference", Message: "required"}
	}
	desc := req.Description
	if desc == "" {
		desc = "Booking"
	}
	password, ts := d.credentials()
	payload := stkPushReq{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   d.cfg.TransactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            d.cfg.PartyB,
		PhoneNumber:       phone,
		CallBackURL:       d.cfg.CallbackURL,
		AccountReference:  truncate(req.BookingReference, maxAccountReference),
		TransactionDesc:   truncate(desc, maxTransactionDesc),
	}
	d.log.Info("stk push",
		zap.String("booking_reference", req.BookingReference),
		zap.String("amount", req.Amount.String()),
		zap.String("phone", phone))
	var out stkPushResp
	if err := d.post(ctx, "stkpush", "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, &ProviderRejectedError{Op: "stkpush", Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	if out.CheckoutRequestID == "" {
		return nil, &ProviderUnavailableError{Op: "stkpush", Err: fmt.Errorf("response without CheckoutRequestID")}
	}
	d.log.Info("stk push accepted",
		zap.String("merchant_request_id", out.MerchantRequestID),
		zap.String("checkout_request_id", out.CheckoutRequestID))
	return &InitiateResponse{
		ProviderRequestID:     out.MerchantRequestID,
		ProviderCorrelationID: out.CheckoutRequestID,
		PayerContact:          phone,
		CustomerMessage:       out.CustomerMessage,
	}, nil
}

type stkQueryReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResp struct {
	ResponseCode        string   `json:"ResponseCode"`
	ResponseDescription string   `json:"ResponseDescription"`
	MerchantRequestID   string   `json:"MerchantRequestID"`
	CheckoutRequestID   string   `json:"CheckoutRequestID"`
	ResultCode          *flexInt `json:"ResultCode"`
	ResultDesc          string   `json:"ResultDesc"`
}

// QueryStatus asks Daraja for the outcome of a push payment.
func (d *DarajaClient) QueryStatus(ctx context.Context, correlationID string) (*Outcome, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, &ValidationError{Field: "checkout_request_id", Message: "required"}
	}
	password, ts := d.credentials()
	payload := stkQueryReq{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		CheckoutRequestID: correlationID,
	}
	var out stkQueryResp
	if err := d.post(ctx, "stkquery", "/mpesa/stkpushquery/v1/query", payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "" && out.ResponseCode != "0" {
		return nil, &ProviderRejectedError{Op: "stkquery", Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	if out.ResultCode == nil {
		return nil, &ProviderUnavailableError{Op: "stkquery", Err: fmt.Errorf("response without ResultCode")}
	}
	cid := out.CheckoutRequestID
	if cid == "" {
		cid = correlationID
	}
	return &Outcome{
		CorrelationID:     cid,
		RequestID:         out.MerchantRequestID,
		ResultCode:        int(*out.ResultCode),
		ResultDescription: out.ResultDesc,
		Channel:           ChannelPoll,
	}, nil
}

func (d *DarajaClient) post(ctx context.Context, op, path string, payload, out any) error {
	tok, err := d.accessToken(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)
	resp, err := d.client.Do(req)
	if err != nil {
		return &ProviderUnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &ProviderUnavailableError{Op: op, Err: err}
	}
	d.log.Debug("daraja response", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
	if rej := parseRejection(op, respBody); rej != nil {
		return rej
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderUnavailableError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderUnavailableError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// parseRejection returns a ProviderRejectedError when body is a Daraja error
// envelope, whatever the HTTP status.
func parseRejection(op string, body []byte) *ProviderRejectedError {
	var e darajaErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.ErrorCode == "" {
		return nil
	}
	return &ProviderRejectedError{Op: op, Code: e.ErrorCode, Message: e.ErrorMessage}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
