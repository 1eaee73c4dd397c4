// Package notify delivers best-effort fulfillment notifications. Delivery
// is asynchronous behind a bounded queue: a full queue or a failing mail
// server never stalls or fails the fulfillment transaction.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	"keygate/internal/config"
)

// Message is one fulfillment notification.
type Message struct {
	Recipient  string
	LicenseKey string
	ProductRef string
	ExpiresAt  time.Time
	Extended   bool
}

// Notifier sends a single notification synchronously.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPNotifier sends license notifications over plain SMTP with auth.
type SMTPNotifier struct {
	cfg config.NotifyConfig
}

// NewSMTPNotifier creates an SMTP-backed notifier.
func NewSMTPNotifier(cfg config.NotifyConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// Send delivers msg to its recipient. The context deadline is not honored
// mid-connection by net/smtp; the dispatcher bounds total send time.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := "Your license key"
	action := "issued"
	if msg.Extended {
		subject = "Your license was extended"
		action = "extended"
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n"+
		"Your license for %s has been %s.\r\n\r\n"+
		"License key: %s\r\nValid until: %s\r\n",
		n.cfg.From, msg.Recipient, subject,
		msg.ProductRef, action,
		msg.LicenseKey, msg.ExpiresAt.Format("2006-01-02"))

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)

	return smtp.SendMail(addr, auth, n.cfg.From, []string{msg.Recipient}, []byte(body))
}

// Dispatcher drains a bounded queue of messages through a Notifier. One
// worker goroutine sends with a per-message timeout; overflow and send
// failures are logged and dropped.
type Dispatcher struct {
	notifier    Notifier
	queue       chan Message
	sendTimeout time.Duration
	logger      *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher creates a dispatcher with the given queue bound.
func NewDispatcher(notifier Notifier, queueSize int, sendTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:    notifier,
		queue:       make(chan Message, queueSize),
		sendTimeout: sendTimeout,
		logger:      logger.With(slog.String("component", "notify")),
		done:        make(chan struct{}),
	}
}

// Start launches the worker. It returns when Stop is called and the
// queue has drained.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for msg := range d.queue {
			ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
			if err := d.notifier.Send(ctx, msg); err != nil {
				d.logger.ErrorContext(ctx, "notification send failed",
					slog.String("license_key", msg.LicenseKey),
					slog.String("error", err.Error()))
			} else {
				d.logger.DebugContext(ctx, "notification sent",
					slog.String("license_key", msg.LicenseKey))
			}
			cancel()
		}
	}()
}

// Enqueue queues msg for delivery. Returns false when the queue is full;
// the notification is dropped, never blocked on.
func (d *Dispatcher) Enqueue(msg Message) bool {
	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warn("notification queue full, dropping",
			slog.String("license_key", msg.LicenseKey))
		return false
	}
}

// Stop closes the queue and waits for the worker to drain it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	<-d.done
}
