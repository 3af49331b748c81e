package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedCallback marks a callback body this service can never process.
var ErrMalformedCallback = errors.New("malformed stk callback")

// eat is East Africa Time; Daraja timestamps are local and Kenya has no DST.
var eat = time.FixedZone("EAT", 3*60*60)

const darajaTimeLayout = "20060102150405"

// STKCallback is the webhook envelope Daraja posts to CallBackURL.
type STKCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string   `json:"MerchantRequestID"`
			CheckoutRequestID string   `json:"CheckoutRequestID"`
			ResultCode        *flexInt `json:"ResultCode"`
			ResultDesc        string   `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// text returns the item value as a string without going through float64, so
// phone numbers and timestamps keep every digit.
func (i callbackItem) text() string {
	v := bytes.TrimSpace(i.Value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(v)
}

// flexInt accepts both 0 and "0"; the callback sends numbers, the query
// endpoint sends strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" {
		return fmt.Errorf("empty result code")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("result code %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// ParseCallback normalizes a raw webhook body into an Outcome.
func ParseCallback(body []byte) (*Outcome, error) {
	var cb STKCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	stk := cb.Body.StkCallback
	if strings.TrimSpace(stk.CheckoutRequestID) == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	if stk.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	out := &Outcome{
		CorrelationID:     strings.TrimSpace(stk.CheckoutRequestID),
		RequestID:         stk.MerchantRequestID,
		ResultCode:        int(*stk.ResultCode),
		ResultDescription: stk.ResultDesc,
		Channel:           ChannelWebhook,
	}
	if stk.CallbackMetadata != nil {
		applyMetadata(out, stk.CallbackMetadata.Item)
	}
	return out, nil
}

func applyMetadata(out *Outcome, items []callbackItem) {
	for _, it := range items {
		v := it.text()
		if v == "" {
			continue
		}
		switch it.Name {
		case "MpesaReceiptNumber":
			out.ReceiptNumber = v
		case "Amount":
			if d, err := decimal.NewFromString(v); err == nil {
				out.Amount = &d
			}
		case "PhoneNumber":
			out.Phone = v
		case "TransactionDate":
			if t, err := time.ParseInLocation(darajaTimeLayout, v, eat); err == nil {
				out.TransactionDate = &t
			}
		}
	}
}

// AckResponse is the body returned to Daraja for every callback.
type AckResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted is the acknowledgement that stops Daraja from retrying.
func Accepted() AckResponse {
	return AckResponse{ResultCode: 0, ResultDesc: "Accepted"}
}
