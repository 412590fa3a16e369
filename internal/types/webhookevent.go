package types

// WebhookEventType enumerates the provider webhook events this service
// consumes. Everything else is acknowledged as an unhandled no-op.
type WebhookEventType string

const (
	WebhookEventCheckoutSessionCompleted WebhookEventType = "checkout.session.completed"
	WebhookEventPaymentIntentSucceeded   WebhookEventType = "payment_intent.succeeded"
	WebhookEventInvoicePaymentSucceeded  WebhookEventType = "invoice.payment_succeeded"
	WebhookEventInvoiceFinalized         WebhookEventType = "invoice.finalized"
	WebhookEventInvoiceCreated           WebhookEventType = "invoice.created"
	WebhookEventInvoicePaymentFailed     WebhookEventType = "invoice.payment_failed"
	WebhookEventSubscriptionUpdated      WebhookEventType = "customer.subscription.updated"
	WebhookEventSubscriptionDeleted      WebhookEventType = "customer.subscription.deleted"
)
