package dynamodb

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// number stores a decimal as a DynamoDB N attribute so that balance arithmetic
// happens server side without float rounding.
type number struct {
	decimal.Decimal
}

func (n number) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: n.Decimal.String()}, nil
}

func (n *number) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		n.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for number", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("failed to parse number %q: %w", raw, err)
	}
	n.Decimal = d
	return nil
}

func numberAV(d decimal.Decimal) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: d.String()}
}

func stringAV(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

// timestampLayout is fixed width so that string order on created_at and
// occurred_at sort keys matches time order. RFC3339Nano trims trailing zeros.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// timestamp stores a time as a fixed-width UTC string.
type timestamp struct {
	time.Time
}

func (t timestamp) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: formatTimestamp(t.Time)}, nil
}

func (t *timestamp) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		// RFC3339Nano also reads rows written before the fixed layout.
		parsed, err := time.Parse(time.RFC3339Nano, v.Value)
		if err != nil {
			return fmt.Errorf("failed to parse timestamp %q: %w", v.Value, err)
		}
		t.Time = parsed.UTC()
		return nil
	case *types.AttributeValueMemberNULL:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for timestamp", av)
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func timeAV(t time.Time) (types.AttributeValue, error) {
	return timestamp{t}.MarshalDynamoDBAttributeValue()
}

type accountItem struct {
	ID             string    `dynamodbav:"id"`
	Balance        number    `dynamodbav:"balance"`
	ReferrerID     string    `dynamodbav:"referrer_id,omitempty"`
	ChannelKind    string    `dynamodbav:"channel_kind,omitempty"`
	ChannelAddress string    `dynamodbav:"channel_address,omitempty"`
	CreatedAt      timestamp `dynamodbav:"created_at"`
	UpdatedAt      timestamp `dynamodbav:"updated_at"`
}

func toAccountItem(a *models.Account) accountItem {
	item := accountItem{
		ID:         a.ID,
		Balance:    number{a.Balance},
		ReferrerID: a.ReferrerID,
		CreatedAt:  timestamp{a.CreatedAt},
		UpdatedAt:  timestamp{a.UpdatedAt},
	}
	if a.NotificationChannel != nil {
		item.ChannelKind = string(a.NotificationChannel.Kind)
		item.ChannelAddress = a.NotificationChannel.Address
	}
	return item
}

func (i accountItem) model() models.Account {
	a := models.Account{
		ID:         i.ID,
		Balance:    i.Balance.Decimal,
		ReferrerID: i.ReferrerID,
		CreatedAt:  i.CreatedAt.Time,
		UpdatedAt:  i.UpdatedAt.Time,
	}
	if i.ChannelKind != "" {
		a.NotificationChannel = &models.NotificationChannel{
			Kind:    models.ChannelKind(i.ChannelKind),
			Address: i.ChannelAddress,
		}
	}
	return a
}

type transactionItem struct {
	ID          string            `dynamodbav:"id"`
	AccountID   string            `dynamodbav:"account_id"`
	Kind        string            `dynamodbav:"kind"`
	Amount      number            `dynamodbav:"amount"`
	Status      string            `dynamodbav:"status"`
	ExternalRef string            `dynamodbav:"external_ref,omitempty"`
	PayoutRef   string            `dynamodbav:"payout_ref,omitempty"`
	Metadata    map[string]string `dynamodbav:"metadata"`
	Version     int64             `dynamodbav:"version"`
	CreatedAt   timestamp         `dynamodbav:"created_at"`
	UpdatedAt   timestamp         `dynamodbav:"updated_at"`
}

func toTransactionItem(tx *models.Transaction) transactionItem {
	md := tx.Clone().Metadata
	if md == nil {
		// Always an M so metadata.#key updates have a parent map.
		md = map[string]string{}
	}
	return transactionItem{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Kind:        string(tx.Kind),
		Amount:      number{tx.Amount},
		Status:      string(tx.Status),
		ExternalRef: tx.ExternalRef,
		PayoutRef:   tx.PayoutRef,
		Metadata:    md,
		Version:     tx.Version,
		CreatedAt:   timestamp{tx.CreatedAt},
		UpdatedAt:   timestamp{tx.UpdatedAt},
	}
}

func (i transactionItem) model() models.Transaction {
	md := i.Metadata
	if len(md) == 0 {
		md = nil
	}
	return models.Transaction{
		ID:          i.ID,
		AccountID:   i.AccountID,
		Kind:        models.TransactionKind(i.Kind),
		Amount:      i.Amount.Decimal,
		Status:      models.TransactionStatus(i.Status),
		ExternalRef: i.ExternalRef,
		PayoutRef:   i.PayoutRef,
		Metadata:    md,
		Version:     i.Version,
		CreatedAt:   i.CreatedAt.Time,
		UpdatedAt:   i.UpdatedAt.Time,
	}
}

func unmarshalTransactions(items []map[string]types.AttributeValue) ([]models.Transaction, error) {
	var rows []transactionItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// pendingMarker is set on undispatched outbox rows and removed on dispatch, which
// keeps the pending index sparse.
const pendingMarker = "1"

type transitionItem struct {
	ID            string            `dynamodbav:"id"`
	TransactionID string            `dynamodbav:"transaction_id"`
	AccountID     string            `dynamodbav:"account_id"`
	Kind          string            `dynamodbav:"kind"`
	Status        string            `dynamodbav:"status"`
	Amount        number            `dynamodbav:"amount"`
	Metadata      map[string]string `dynamodbav:"metadata,omitempty"`
	OccurredAt    timestamp         `dynamodbav:"occurred_at"`
	Dispatched    bool              `dynamodbav:"dispatched"`
	Attempts      int               `dynamodbav:"attempts"`
	Pending       string            `dynamodbav:"pending,omitempty"`
}

func toTransitionItem(tr models.Transition) transitionItem {
	item := transitionItem{
		ID:            tr.ID,
		TransactionID: tr.TransactionID,
		AccountID:     tr.AccountID,
		Kind:          string(tr.Kind),
		Status:        string(tr.Status),
		Amount:        number{tr.Amount},
		Metadata:      tr.Metadata,
		OccurredAt:    timestamp{tr.OccurredAt},
		Dispatched:    tr.Dispatched,
		Attempts:      tr.Attempts,
	}
	if !tr.Dispatched {
		item.Pending = pendingMarker
	}
	return item
}

func (i transitionItem) model() models.Transition {
	return models.Transition{
		ID:            i.ID,
		TransactionID: i.TransactionID,
		AccountID:     i.AccountID,
		Kind:          models.TransactionKind(i.Kind),
		Status:        models.TransactionStatus(i.Status),
		Amount:        i.Amount.Decimal,
		Metadata:      i.Metadata,
		OccurredAt:    i.OccurredAt.Time,
		Dispatched:    i.Dispatched,
		Attempts:      i.Attempts,
	}
}

type configItem struct {
	ID                   string    `dynamodbav:"id"`
	InterestRatePercent  number    `dynamodbav:"interest_rate_percent"`
	WithdrawalFeePercent number    `dynamodbav:"withdrawal_fee_percent"`
	UpdatedAt            time.Time `dynamodbav:"updated_at"`
	UpdatedBy            string    `dynamodbav:"updated_by,omitempty"`
}

// cancellationCode returns the cancellation code of the write at index i, or ""
// when err is not a cancelled transaction.
func cancellationCode(err error, i int) string {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return ""
	}
	if tce.CancellationReasons[i].Code == nil {
		return ""
	}
	return *tce.CancellationReasons[i].Code
}

// cancellationItem returns the old item reported for the write at index i.
func cancellationItem(err error, i int) map[string]types.AttributeValue {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return nil
	}
	return tce.CancellationReasons[i].Item
}

const conditionalCheckFailed = "ConditionalCheckFailed"
