package domain

import "paybridge/pkg/payment"

// PaymentState is the lifecycle state of a payment attempt.
type PaymentState string

const (
	StatePending   PaymentState = "PENDING"
	StateCompleted PaymentState = "COMPLETED"
	StateFailed    PaymentState = "FAILED"
	StateCancelled PaymentState = "CANCELLED"
)

func (s PaymentState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// StateForResultCode maps a provider result code to the terminal state it settles into.
func StateForResultCode(code int) PaymentState {
	switch code {
	case payment.ResultCodeSuccess:
		return StateCompleted
	case payment.ResultCodeUserCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

const (
	BookingStatusPending   = "PENDING"
	BookingStatusConfirmed = "CONFIRMED"
)

const (
	RoleService = "SERVICE"
	RoleAdmin   = "ADMIN"
)

// Audit log directions and event kinds.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
	DirectionInternal = "INTERNAL"

	EventInitiateRequest  = "stk_push_request"
	EventInitiateResponse = "stk_push_response"
	EventCallback         = "stk_callback"
	EventQueryRequest     = "stk_query_request"
	EventQueryResponse    = "stk_query_response"
	EventSettlement       = "settlement"
	EventEffects          = "settlement_effects"
)

const NotificationTypePaymentReceipt = "PAYMENT_RECEIPT"
