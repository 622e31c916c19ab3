// Package purchase provides Stripe integration for lesson checkout.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// ErrSessionNotFound is returned when Stripe has no Checkout Session for
// the given ID.
var ErrSessionNotFound = errors.New("checkout session not found")

// LessonDescriptionPrefix is the line-item product name prefix used for
// lesson checkouts. The webhook last-resort path matches against it when
// both metadata and the client reference ID are missing.
const LessonDescriptionPrefix = "Access to lesson: "

// Session metadata keys. Metadata and the client reference ID are two
// redundant channels for the same identifiers, because Stripe does not
// populate metadata reliably in every event payload.
const (
	MetadataLessonID = "lesson_id"
	MetadataUserID   = "user_id"
)

// CheckoutParams holds parameters for creating a lesson Checkout Session.
type CheckoutParams struct {
	LessonID    string
	LessonTitle string
	UserID      string
	PriceCents  int64
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the subset of a created session callers need.
type CheckoutSession struct {
	ID  string
	URL string
}

// SessionDetails is the translated view of a retrieved Checkout Session.
// Gateway callers never see stripe SDK types.
type SessionDetails struct {
	ID                   string
	PaymentStatus        string
	AmountTotalCents     int64
	Metadata             map[string]string
	ClientReferenceID    string
	PaymentIntentID      string
	CustomerEmail        string
	LineItemDescriptions []string
}

// Paid reports whether the session's payment has settled. Stripe reports
// no_payment_required for zero-amount sessions (for example 100% promo codes).
func (d *SessionDetails) Paid() bool {
	return d.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) ||
		d.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
}

// Gateway is an interface for Stripe operations to enable testing with fakes.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string, expandLineItems bool) (*SessionDetails, error)
}

// StripeGateway implements Gateway using the real Stripe SDK.
type StripeGateway struct{}

// NewStripeGateway creates a new Stripe gateway with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

// ClientReferenceID encodes the lesson and user IDs into the fixed
// client_reference_id format carried on every lesson checkout session.
func ClientReferenceID(lessonID, userID string) string {
	return fmt.Sprintf("lesson_%s_user_%s", lessonID, userID)
}

// ParseClientReferenceID extracts the lesson and user IDs from a
// client_reference_id in the format "lesson_<lessonID>_user_<userID>".
// Returns ok=false when the value does not match the pattern.
func ParseClientReferenceID(ref string) (lessonID, userID string, ok bool) {
	rest, found := strings.CutPrefix(ref, "lesson_")
	if !found {
		return "", "", false
	}
	// Lesson IDs may themselves contain underscores; the user marker is
	// anchored at the last occurrence.
	idx := strings.LastIndex(rest, "_user_")
	if idx < 0 {
		return "", "", false
	}
	lessonID = rest[:idx]
	userID = rest[idx+len("_user_"):]
	if lessonID == "" || userID == "" {
		return "", "", false
	}
	return lessonID, userID, true
}

// CreateCheckoutSession creates a Stripe Checkout Session for a lesson.
// The lesson and user IDs travel both in metadata and in the client
// reference ID.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(ClientReferenceID(params.LessonID, params.UserID)),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(params.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(LessonDescriptionPrefix + params.LessonTitle),
					},
				},
			},
		},
	}
	sessionParams.Context = ctx
	sessionParams.AddMetadata(MetadataLessonID, params.LessonID)
	sessionParams.AddMetadata(MetadataUserID, params.UserID)

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create: %w", err)
	}

	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// RetrieveSession fetches a Checkout Session. Line items are expanded only
// on request; the webhook last-resort path needs them to recover a lesson
// from the product description.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string, expandLineItems bool) (*SessionDetails, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if expandLineItems {
		params.AddExpand("line_items")
	}

	sess, err := session.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("stripe checkout session retrieve: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	details := &SessionDetails{
		ID:                sess.ID,
		PaymentStatus:     string(sess.PaymentStatus),
		AmountTotalCents:  sess.AmountTotal,
		Metadata:          sess.Metadata,
		ClientReferenceID: sess.ClientReferenceID,
	}
	if sess.PaymentIntent != nil {
		details.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.CustomerDetails != nil {
		details.CustomerEmail = sess.CustomerDetails.Email
	}
	if sess.LineItems != nil {
		for _, item := range sess.LineItems.Data {
			details.LineItemDescriptions = append(details.LineItemDescriptions, item.Description)
		}
	}

	return details, nil
}
