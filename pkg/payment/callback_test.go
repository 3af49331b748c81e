package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1500.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

func TestParseCallback_Success(t *testing.T) {
	out, err := ParseCallback([]byte(successCallback))
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_191220191020363925", out.CorrelationID)
	assert.Equal(t, "29115-34620561-1", out.RequestID)
	assert.Equal(t, 0, out.ResultCode)
	assert.True(t, out.Succeeded())
	assert.Equal(t, "The service request is processed successfully.", out.ResultDescription)
	assert.Equal(t, "NLJ7RT61SV", out.ReceiptNumber)
	assert.Equal(t, "254712345678", out.Phone)
	assert.Equal(t, ChannelWebhook, out.Channel)
	require.NotNil(t, out.Amount)
	assert.Equal(t, "1500", out.Amount.String())
	require.NotNil(t, out.TransactionDate)
	assert.True(t, out.TransactionDate.Equal(time.Date(2019, 12, 19, 7, 21, 15, 0, time.UTC)))
}

func TestParseCallback_Cancelled(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	out, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, ResultCodeUserCancelled, out.ResultCode)
	assert.Equal(t, "Request cancelled by user", out.ResultDescription)
	assert.Empty(t, out.ReceiptNumber)
	assert.Nil(t, out.Amount)
}

func TestParseCallback_StringValues(t *testing.T) {
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2","ResultCode":"0","ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"10"},{"Name":"MpesaReceiptNumber","Value":" R1 "}]}}}}`
	out, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 0, out.ResultCode)
	assert.Equal(t, "R1", out.ReceiptNumber)
	assert.Equal(t, "10", out.Amount.String())
}

func TestParseCallback_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":         `<xml/>`,
		"empty":            ``,
		"missing checkout": `{"Body":{"stkCallback":{"ResultCode":0}}}`,
		"missing code":     `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_3"}}}`,
		"bad code":         `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_3","ResultCode":"x"}}}`,
		"wrong envelope":   `{"reference":"abc","status":"COMPLETED"}`,
	} {
		_, err := ParseCallback([]byte(body))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrMalformedCallback), name)
	}
}
